// Package cmd wires the CLI: serve, migrations, and the operator commands
// for the buffer and chat history.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sorryformyhair/dmflow/internal/config"
	"github.com/sorryformyhair/dmflow/internal/store"
	"github.com/sorryformyhair/dmflow/internal/store/pg"
	"github.com/sorryformyhair/dmflow/internal/store/sqlite"
)

// Version is set at build time via -ldflags "-X github.com/sorryformyhair/dmflow/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "dmflow",
	Short: "dmflow — Instagram DM consultation pipeline",
	Long:  "dmflow buffers Instagram DM bursts per user, normalizes media to text, drives an LLM consultation agent with catalog and order tools, and delivers paced replies.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json5 or $DMFLOW_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(bufferCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dmflow %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("DMFLOW_CONFIG"); v != "" {
		return v
	}
	return "config.json5"
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openStores picks the backend from config: Postgres when a DSN is set,
// SQLite otherwise.
func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.Database.Backend == "postgres" {
		if cfg.Secrets.PostgresDSN == "" {
			return nil, fmt.Errorf("DMFLOW_POSTGRES_DSN environment variable is not set")
		}
		return pg.NewStores(cfg.Secrets.PostgresDSN)
	}
	return sqlite.NewStores(cfg.Database.SQLitePath)
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
