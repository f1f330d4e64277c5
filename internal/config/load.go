package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
)

// Environment variable names for overrides. Environment values win over the
// config file so credentials can be injected without writing them to disk.
const (
	EnvConfig       = "PULSORA_CONFIG"
	EnvBaseURL      = "PULSORA_BASE_URL"
	EnvOrganisation = "PULSORA_ORG_ID"
	EnvAccessToken  = "PULSORA_ACCESS_TOKEN"
	EnvRefreshToken = "PULSORA_REFRESH_TOKEN"
	EnvAPIKey       = "PULSORA_API_KEY"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. This supports zero-config
// use where everything comes from the environment.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables.
func Resolve(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	if path == "" {
		path = DefaultPath()
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultPath returns the default config file location under the user's
// config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "pulsora.toml"
	}

	return dir + "/pulsora/config.toml"
}

// applyEnv overlays environment variable values onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.API.BaseURL = v
	}

	if v := os.Getenv(EnvOrganisation); v != "" {
		cfg.API.OrganisationID = v
	}

	if v := os.Getenv(EnvAccessToken); v != "" {
		cfg.API.AccessToken = v
	}

	if v := os.Getenv(EnvRefreshToken); v != "" {
		cfg.API.RefreshToken = v
	}

	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.API.APIKey = v
	}
}

// Validate checks field-level constraints.
func Validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}

	if _, err := url.Parse(cfg.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url is not a valid URL: %w", err)
	}

	switch cfg.Logging.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.log_level must be one of debug, info, warn, error (got %q)", cfg.Logging.LogLevel)
	}

	switch cfg.Logging.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.log_format must be text or json (got %q)", cfg.Logging.LogFormat)
	}

	if cfg.Push.Enabled && cfg.Push.GatewayURL == "" {
		return fmt.Errorf("push.gateway_url is required when push is enabled")
	}

	return nil
}
