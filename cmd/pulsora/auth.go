package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/pulsora/pulsora-go/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Exchange an API key for a token pair and save it",
		Long: "Reads an API key from the PULSORA_API_KEY environment variable or the\n" +
			"config file, exchanges it for an access and refresh token, and saves\n" +
			"the pair for subsequent commands.",
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token pair",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current credential state",
		RunE:  runWhoami,
	}
}

func runLogin(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	apiKey := resolvedCfg.API.APIKey
	if apiKey == "" {
		return fmt.Errorf("no API key: set PULSORA_API_KEY or api.api_key in the config file")
	}

	// Build the client without the key so login stays an explicit,
	// synchronous step.
	cfg := *resolvedCfg
	cfg.API.APIKey = ""
	cfg.API.AccessToken = ""
	cfg.API.RefreshToken = ""
	resolvedCfg = &cfg

	client, err := buildClient(logger)
	if err != nil {
		return err
	}
	defer client.Close()

	pair, err := client.Login(ctx, apiKey)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
	}
	meta := map[string]string{"organisation_id": cfg.API.OrganisationID}
	if err := tokenfile.Save(tokenPath(), tok, meta); err != nil {
		return fmt.Errorf("saving tokens: %w", err)
	}

	logger.Info("login successful", "path", tokenPath())
	statusf("Login successful.\n")

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	if err := tokenfile.Remove(tokenPath()); err != nil {
		return fmt.Errorf("removing tokens: %w", err)
	}

	logger.Info("logout successful")
	statusf("Logged out.\n")

	return nil
}

func runWhoami(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	client, err := buildClient(logger)
	if err != nil {
		return err
	}
	defer client.Close()

	info := client.AuthInfo()

	if flagJSON {
		return printJSON(info)
	}

	statusf("Auth mode:     %s\n", info.Mode)
	if info.OrganisationID != "" {
		statusf("Organisation:  %s\n", info.OrganisationID)
	}
	statusf("Refresh token: %v\n", info.HasRefreshToken)
	if !info.Expiry.IsZero() {
		statusf("Token expires: %s\n", info.Expiry.Format(time.RFC3339))
	}

	return nil
}
