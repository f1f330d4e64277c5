package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulsora/pulsora-go"
)

func newIdentifyCmd() *cobra.Command {
	var (
		email     string
		firstName string
		lastName  string
		attrsJSON string
		tags      []string
	)

	cmd := &cobra.Command{
		Use:   "identify <customer-id>",
		Short: "Create or update a customer profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			logger := buildLogger()
			ctx := context.Background()

			customer := pulsora.Customer{
				ID:        args[0],
				Email:     email,
				FirstName: firstName,
				LastName:  lastName,
				Tags:      tags,
			}

			if attrsJSON != "" {
				if err := json.Unmarshal([]byte(attrsJSON), &customer.Attributes); err != nil {
					return fmt.Errorf("parsing --attributes: %w", err)
				}
			}

			client, err := buildClient(logger)
			if err != nil {
				return err
			}
			defer client.Close()

			stored, err := client.Identify(ctx, customer)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(stored)
			}

			statusf("Customer %s saved.\n", stored.ID)

			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "email address")
	cmd.Flags().StringVar(&firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	cmd.Flags().StringVarP(&attrsJSON, "attributes", "a", "", "custom attributes as a JSON object")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tag to apply (repeatable)")

	return cmd
}
