package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Publish events buffered in the offline outbox",
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := buildLogger()
			ctx := context.Background()

			if resolvedCfg.Outbox.Path == "" {
				return fmt.Errorf("no outbox configured: set outbox.path in the config file")
			}

			client, err := buildClient(logger)
			if err != nil {
				return err
			}
			defer client.Close()

			flushed, err := client.FlushOutbox(ctx)
			if err != nil {
				remaining, perr := client.PendingEvents(ctx)
				if perr == nil {
					return fmt.Errorf("flushed %d, %d still pending: %w", flushed, remaining, err)
				}

				return err
			}

			statusf("Flushed %d event(s).\n", flushed)

			return nil
		},
	}
}
