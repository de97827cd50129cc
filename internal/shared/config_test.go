package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./trackx.db" {
			t.Errorf("expected database path ./trackx.db, got %s", config.Database.Path)
		}
		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}
		if config.Sync.PageSize != 100 {
			t.Errorf("expected page size 100, got %d", config.Sync.PageSize)
		}
		if config.Sync.RefreshBuffer.Duration != 5*time.Minute {
			t.Errorf("expected refresh buffer 5m, got %v", config.Sync.RefreshBuffer.Duration)
		}
		if config.Tracker.RetryInitialDelay.Duration != 500*time.Millisecond {
			t.Errorf("expected retry delay 500ms, got %v", config.Tracker.RetryInitialDelay.Duration)
		}
		if config.Credentials.Tracker.ClientID != "your_tracker_client_id" {
			t.Errorf("expected tracker client_id your_tracker_client_id, got %s", config.Credentials.Tracker.ClientID)
		}
		if len(config.Credentials.Tracker.Scopes) != 3 {
			t.Errorf("expected 3 scopes, got %d", len(config.Credentials.Tracker.Scopes))
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[sync]
page_size = 50
refresh_buffer = "2m"

[credentials.tracker]
client_id = "test_client_id"
client_secret = "test_secret"
`

		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}
		if config.Sync.PageSize != 50 {
			t.Errorf("expected page size 50, got %d", config.Sync.PageSize)
		}
		if config.Sync.RefreshBuffer.Duration != 2*time.Minute {
			t.Errorf("expected refresh buffer 2m, got %v", config.Sync.RefreshBuffer.Duration)
		}
		if config.Sync.MaxOffset != 10000 {
			t.Errorf("expected unset max_offset to keep default 10000, got %d", config.Sync.MaxOffset)
		}
		if config.Credentials.Tracker.ClientID != "test_client_id" {
			t.Errorf("expected tracker client_id test_client_id, got %s", config.Credentials.Tracker.ClientID)
		}
	})

	t.Run("LoadConfig rejects bad durations", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[sync]\nrefresh_buffer = \"soon\"\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfig(configPath); err == nil {
			t.Fatal("expected error for unparsable duration")
		}
	})

	t.Run("SaveConfig round trip", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		config := DefaultConfig()
		config.Sync.UserID = "alice"
		config.Sync.Interval = Duration{15 * time.Minute}

		if err := SaveConfig(configPath, config); err != nil {
			t.Fatalf("failed to save config: %v", err)
		}

		loaded, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load saved config: %v", err)
		}
		if loaded.Sync.UserID != "alice" {
			t.Errorf("expected user alice, got %s", loaded.Sync.UserID)
		}
		if loaded.Sync.Interval.Duration != 15*time.Minute {
			t.Errorf("expected interval 15m, got %v", loaded.Sync.Interval.Duration)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		config := DefaultConfig()
		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}

		config.Credentials.Tracker.ClientSecret = ""
		if err := config.Validate(); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}

		config = DefaultConfig()
		config.Sync.PageSize = 0
		if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}
