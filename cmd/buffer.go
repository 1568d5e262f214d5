package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sorryformyhair/dmflow/internal/config"
)

func bufferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buffer",
		Short: "Inspect and repair the message buffer",
	}
	cmd.AddCommand(bufferListCmd())
	cmd.AddCommand(bufferRequeueCmd())
	return cmd
}

func bufferListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List failed and permanently failed buffer rows",
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

			rows, err := stores.Buffer.ListFailed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("no failed rows")
				return nil
			}
			for _, r := range rows {
				fmt.Printf("%s  user=%s  status=%s  retries=%d  fragments=%d  last_message=%s\n",
					r.ID, r.UserID, r.Status, r.RetryCount, len(r.Fragments),
					r.LastMessageAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to list")
	return cmd
}

func bufferRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <row-id>",
		Short: "Reset a permanently failed row so the dispatcher retries it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid row id: %w", err)
			}

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			stores, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			if err := stores.Buffer.Requeue(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("row %s requeued\n", id)
			return nil
		},
	}
}
