// Package config implements TOML configuration loading for the SDK and the
// CLI, with an override chain of defaults -> config file -> environment.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	API     APIConfig     `toml:"api"`
	Push    PushConfig    `toml:"push"`
	Outbox  OutboxConfig  `toml:"outbox"`
	Logging LoggingConfig `toml:"logging"`
}

// APIConfig holds the credentials and addressing for the REST API.
// Auth mode is inferred from which credential is supplied: an access token
// takes precedence over an API key when both are present. The organisation
// id, when set, is always applied — it does not depend on whether an access
// token was also given.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	OrganisationID string `toml:"organisation_id"`
	AccessToken    string `toml:"access_token"`
	RefreshToken   string `toml:"refresh_token"`
	APIKey         string `toml:"api_key"`
}

// PushConfig controls the push gateway connection.
type PushConfig struct {
	Enabled    bool   `toml:"enabled"`
	GatewayURL string `toml:"gateway_url"`
}

// OutboxConfig controls the offline event buffer. An empty path disables
// buffering: publish failures surface directly to the caller.
type OutboxConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "https://api.pulsora.io/v1",
		},
		Push: PushConfig{
			GatewayURL: "wss://push.pulsora.io/v1",
		},
		Logging: LoggingConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}
