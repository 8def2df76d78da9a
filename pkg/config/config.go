// Package config loads sync-engine configuration from a JSON file with an
// environment-variable overlay applied on top, so deployments can override
// individual fields without editing the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	API     APIConfig     `json:"api"`
	Live    LiveConfig    `json:"live"`
	History HistoryConfig `json:"history"`
	Resync  ResyncConfig  `json:"resync"`
}

// APIConfig addresses the product's REST surface (history and action
// endpoints).
type APIConfig struct {
	BaseURL        string `json:"base_url"        env:"ANTHRA_API_BASE"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"ANTHRA_API_TIMEOUT"`
}

// LiveConfig addresses the push-delivery channel.
type LiveConfig struct {
	URL                     string `json:"url"                       env:"ANTHRA_LIVE_URL"`
	HandshakeTimeoutSeconds int    `json:"handshake_timeout_seconds" env:"ANTHRA_LIVE_HANDSHAKE_TIMEOUT"`
	ReconnectInitialMillis  int    `json:"reconnect_initial_ms"      env:"ANTHRA_LIVE_RECONNECT_INITIAL_MS"`
	ReconnectMaxSeconds     int    `json:"reconnect_max_seconds"     env:"ANTHRA_LIVE_RECONNECT_MAX"`
}

type HistoryConfig struct {
	PageSize int `json:"page_size" env:"ANTHRA_PAGE_SIZE"`
}

// ResyncConfig controls the poll fallback that refreshes the active
// conversation while the live channel is degraded. Schedule is a cron
// expression; disabled by default.
type ResyncConfig struct {
	Enabled  bool   `json:"enabled"  env:"ANTHRA_RESYNC_ENABLED"`
	Schedule string `json:"schedule" env:"ANTHRA_RESYNC_SCHEDULE"`
}

func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "https://api.anthra.dk",
			TimeoutSeconds: 15,
		},
		Live: LiveConfig{
			URL:                     "wss://api.anthra.dk/live",
			HandshakeTimeoutSeconds: 10,
			ReconnectInitialMillis:  500,
			ReconnectMaxSeconds:     30,
		},
		History: HistoryConfig{
			PageSize: 30,
		},
		Resync: ResyncConfig{
			Enabled:  false,
			Schedule: "* * * * *",
		},
	}
}

// LoadConfig reads the JSON config at path, fills in defaults for absent
// fields, then applies environment overrides. A missing file yields the
// defaults rather than an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Live.URL == "" {
		return fmt.Errorf("live.url is required")
	}
	if c.History.PageSize <= 0 {
		return fmt.Errorf("history.page_size must be positive, got %d", c.History.PageSize)
	}
	if c.Resync.Enabled {
		if !gronx.New().IsValid(c.Resync.Schedule) {
			return fmt.Errorf("resync.schedule %q is not a valid cron expression", c.Resync.Schedule)
		}
	}
	return nil
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		if len(path) == 1 {
			return home
		}
	}
	return path
}

// ConfigDir returns the directory holding the config and credential files.
func ConfigDir() string {
	return expandHome("~/.anthra-sync")
}
