package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsora/pulsora-go"
)

func newTrackCmd() *cobra.Command {
	var (
		customerID string
		eventID    string
		dataJSON   string
		occurredAt string
	)

	cmd := &cobra.Command{
		Use:   "track <event-name>",
		Short: "Publish a behavioral event",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			logger := buildLogger()
			ctx := context.Background()

			ev := pulsora.Event{
				Name:       args[0],
				ID:         eventID,
				CustomerID: customerID,
			}

			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &ev.Data); err != nil {
					return fmt.Errorf("parsing --data: %w", err)
				}
			}

			if occurredAt != "" {
				ts, err := time.Parse(time.RFC3339, occurredAt)
				if err != nil {
					return fmt.Errorf("parsing --at: %w", err)
				}
				ev.OccurredAt = ts
			}

			client, err := buildClient(logger)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.TrackEvent(ctx, ev); err != nil {
				return err
			}

			statusf("Event tracked.\n")

			return nil
		},
	}

	cmd.Flags().StringVarP(&customerID, "customer", "c", "", "customer id to attribute the event to")
	cmd.Flags().StringVar(&eventID, "id", "", "idempotency id (default: random UUID)")
	cmd.Flags().StringVarP(&dataJSON, "data", "d", "", "event payload as a JSON object")
	cmd.Flags().StringVar(&occurredAt, "at", "", "occurrence time, RFC 3339 (default: now)")

	return cmd
}
