package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulsora/pulsora-go"
)

func newSendCmd() *cobra.Command {
	var (
		channels []string
		title    string
		body     string
		dataJSON string
	)

	cmd := &cobra.Command{
		Use:   "send <customer-id>",
		Short: "Send a message to a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			logger := buildLogger()
			ctx := context.Background()

			msg := pulsora.Message{
				CustomerID: args[0],
				Title:      title,
				Body:       body,
			}
			for _, ch := range channels {
				msg.Channels = append(msg.Channels, pulsora.Channel(ch))
			}

			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &msg.Data); err != nil {
					return fmt.Errorf("parsing --data: %w", err)
				}
			}

			client, err := buildClient(logger)
			if err != nil {
				return err
			}
			defer client.Close()

			receipt, err := client.SendMessage(ctx, msg)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(receipt)
			}

			statusf("Message %s %s.\n", receipt.ID, receipt.State)

			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&channels, "channel", "C", []string{"push"}, "delivery channel: push, email, sms, inapp (repeatable)")
	cmd.Flags().StringVar(&title, "title", "", "message title")
	cmd.Flags().StringVarP(&body, "body", "b", "", "message body (required)")
	cmd.Flags().StringVarP(&dataJSON, "data", "d", "", "message payload as a JSON object")
	cmd.MarkFlagRequired("body")

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <message-id>",
		Short: "Show the delivery status of a sent message",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			logger := buildLogger()
			ctx := context.Background()

			client, err := buildClient(logger)
			if err != nil {
				return err
			}
			defer client.Close()

			status, err := client.GetMessageStatus(ctx, args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(status)
			}

			statusf("Message %s: %s\n", status.ID, status.State)
			for ch, state := range status.Channels {
				statusf("  %s: %s\n", ch, state)
			}

			return nil
		},
	}
}
