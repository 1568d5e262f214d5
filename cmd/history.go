package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sorryformyhair/dmflow/internal/config"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage per-user chat history",
	}
	cmd.AddCommand(historyShowCmd())
	cmd.AddCommand(historyClearCmd())
	return cmd
}

func historyShowCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print a user's recent conversation turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			stores, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			turns, err := stores.History.Recent(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(turns) == 0 {
				fmt.Println("no history")
				return nil
			}
			for _, t := range turns {
				fmt.Printf("[%s] %s: %s\n",
					t.CreatedAt.Format("2006-01-02 15:04:05"), t.Role, t.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum turns to show")
	return cmd
}

func historyClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <user-id>",
		Short: "Delete all stored turns for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			stores, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			if err := stores.History.Clear(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("history cleared for %s\n", args[0])
			return nil
		},
	}
}
