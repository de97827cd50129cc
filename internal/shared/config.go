package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Tracker     TrackerConfig     `toml:"tracker"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Sync        SyncConfig        `toml:"sync"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains OAuth client credentials per provider.
type CredentialsConfig struct {
	Tracker OAuthClientConfig `toml:"tracker"`
}

// OAuthClientConfig contains the OAuth 2.0 client registration for the remote tracker.
type OAuthClientConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURI  string   `toml:"redirect_uri"`
	Scopes       []string `toml:"scopes"`
}

// TrackerConfig contains endpoints and transport policy for the remote tracker API.
type TrackerConfig struct {
	Provider          string   `toml:"provider"`
	BaseURL           string   `toml:"base_url"`
	AuthURL           string   `toml:"auth_url"`
	TokenURL          string   `toml:"token_url"`
	ResourcesURL      string   `toml:"resources_url"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	MaxRetries        int      `toml:"max_retries"`
	RetryInitialDelay Duration `toml:"retry_initial_delay"`
	RetryMaxDelay     Duration `toml:"retry_max_delay"`
	RequestTimeout    Duration `toml:"request_timeout"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains settings for the local OAuth callback server.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SyncConfig contains orchestrator policy.
type SyncConfig struct {
	UserID        string   `toml:"user_id"`
	PageSize      int      `toml:"page_size"`
	MaxOffset     int      `toml:"max_offset"`
	RefreshBuffer Duration `toml:"refresh_buffer"`
	Interval      Duration `toml:"interval"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a [time.Duration] that reads and writes TOML strings such as "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes config to path as TOML, replacing any existing file.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that the settings needed to talk to the remote tracker are present.
func (c *Config) Validate() error {
	if c.Credentials.Tracker.ClientID == "" || c.Credentials.Tracker.ClientSecret == "" {
		return fmt.Errorf("%w: tracker client_id and client_secret must be set", ErrMissingCredentials)
	}
	if c.Tracker.BaseURL == "" || c.Tracker.TokenURL == "" {
		return fmt.Errorf("%w: tracker base_url and token_url must be set", ErrInvalidConfig)
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("%w: sync page_size must be positive", ErrInvalidConfig)
	}
	return nil
}
