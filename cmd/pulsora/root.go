package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pulsora/pulsora-go"
	"github.com/pulsora/pulsora-go/internal/config"
	"github.com/pulsora/pulsora-go/internal/tokenfile"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagTokenFile  string
	flagOrg        string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by
// PersistentPreRunE and is available to every subcommand.
var resolvedCfg *config.Config

// httpClientTimeout keeps a hung request from blocking a CLI command
// indefinitely.
const httpClientTimeout = 30 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds the fully-assembled root command. Called once from
// main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pulsora",
		Short:   "Pulsora command line client",
		Long:    "Track events, manage customer profiles, and send messages through the Pulsora platform.",
		Version: version,
		// Silence Cobra's default error/usage printing; exitOnError
		// handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(flagConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if flagOrg != "" {
				cfg.API.OrganisationID = flagOrg
			}
			resolvedCfg = cfg

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagTokenFile, "token-file", "", "saved token file path")
	cmd.PersistentFlags().StringVar(&flagOrg, "org", "", "organisation id override")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newTrackCmd())
	cmd.AddCommand(newIdentifyCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newFlushCmd())
	cmd.AddCommand(newListenCmd())

	return cmd
}

// buildLogger creates an slog.Logger from the resolved config and CLI
// flags. Config provides the baseline; --verbose and --quiet override it
// because CLI flags always win. Text output is for terminals; when
// stderr is redirected the format falls back to JSON so log collectors
// get structured lines.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	format := "text"
	if resolvedCfg != nil {
		format = resolvedCfg.Logging.LogFormat
	}

	fd := os.Stderr.Fd()
	if format == "text" && !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		format = "json"
	}

	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// tokenPath returns the path of the saved token file, honoring the
// --token-file override.
func tokenPath() string {
	if flagTokenFile != "" {
		return flagTokenFile
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}

	return filepath.Join(dir, "pulsora", "tokens.json")
}

// buildClient constructs an SDK client from the resolved config. Tokens
// saved by a previous login take precedence over credentials in the
// config file.
func buildClient(logger *slog.Logger) (*pulsora.Client, error) {
	cfg := resolvedCfg

	opts := pulsora.Options{
		BaseURL:        cfg.API.BaseURL,
		OrganisationID: cfg.API.OrganisationID,
		AccessToken:    cfg.API.AccessToken,
		RefreshToken:   cfg.API.RefreshToken,
		APIKey:         cfg.API.APIKey,
		OutboxPath:     cfg.Outbox.Path,
		HTTPClient:     defaultHTTPClient(),
		Logger:         logger,
	}

	if cfg.Push.Enabled {
		opts.PushGatewayURL = cfg.Push.GatewayURL
	}

	tok, _, err := tokenfile.Load(tokenPath())
	if err != nil {
		return nil, fmt.Errorf("loading saved tokens: %w", err)
	}
	if tok != nil {
		opts.AccessToken = tok.AccessToken
		opts.RefreshToken = tok.RefreshToken
		opts.APIKey = ""
	}

	return pulsora.New(opts)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// statusf prints informational output for humans unless --quiet or
// --json is set.
func statusf(format string, args ...any) {
	if flagQuiet || flagJSON {
		return
	}

	fmt.Printf(format, args...)
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
