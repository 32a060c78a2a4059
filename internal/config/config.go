// Package config loads server configuration from a YAML file with
// environment variable overrides. Secrets (bearer token, provider API key)
// are env-only so they never end up in a checked-in file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Addr              string `yaml:"addr"`
		PublicBaseURL     string `yaml:"public_base_url"`
		BearerToken       string `yaml:"-"` // env only
		RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	} `yaml:"server"`
	Provider struct {
		BaseURL         string `yaml:"base_url"`
		APIKey          string `yaml:"-"` // env only
		RateLimitPerSec int    `yaml:"rate_limit_per_sec"`
		FetchTimeoutSec int    `yaml:"fetch_timeout_sec"`
	} `yaml:"provider"`
	Catalog struct {
		SnapshotFile string `yaml:"snapshot_file"`
		RefreshCron  string `yaml:"refresh_cron"` // empty disables the refresh job
	} `yaml:"catalog"`
	Icons struct {
		Dir string `yaml:"dir"`
	} `yaml:"icons"`
	Market struct {
		CacheTTLSec   int `yaml:"cache_ttl_sec"`
		StaleGraceSec int `yaml:"stale_grace_sec"`
	} `yaml:"market"`
	Charts struct {
		Dir         string `yaml:"dir"`
		MaxCount    int    `yaml:"max_count"`
		MaxAgeHours int    `yaml:"max_age_hours"`
		SweepCron   string `yaml:"sweep_cron"`
		Watermark   string `yaml:"watermark"`
	} `yaml:"charts"`
	Sessions struct {
		MaxInFlight    int `yaml:"max_in_flight"`
		IdleTimeoutSec int `yaml:"idle_timeout_sec"`
	} `yaml:"sessions"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"` // empty disables the recorder
	} `yaml:"database"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error; env vars and
// defaults alone can configure the server.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("SERVER_DOMAIN"); v != "" {
		cfg.Server.PublicBaseURL = v
	}
	if v := os.Getenv("BEARER_TOKEN"); v != "" {
		cfg.Server.BearerToken = v
	}
	if v := os.Getenv("CMC_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("CMC_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("COIN_LIST_FILE"); v != "" {
		cfg.Catalog.SnapshotFile = v
	}
	if v := os.Getenv("ICONS_DIR"); v != "" {
		cfg.Icons.Dir = v
	}
	if v := os.Getenv("CHARTS_DIR"); v != "" {
		cfg.Charts.Dir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MAX_IN_FLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sessions.MaxInFlight = n
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":30000"
	}
	if cfg.Server.RequestTimeoutSec == 0 {
		cfg.Server.RequestTimeoutSec = 30
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://pro-api.coinmarketcap.com"
	}
	if cfg.Provider.RateLimitPerSec == 0 {
		cfg.Provider.RateLimitPerSec = 5
	}
	if cfg.Provider.FetchTimeoutSec == 0 {
		cfg.Provider.FetchTimeoutSec = 15
	}
	if cfg.Catalog.SnapshotFile == "" {
		cfg.Catalog.SnapshotFile = "cmc_coin_list.json"
	}
	if cfg.Icons.Dir == "" {
		cfg.Icons.Dir = "images"
	}
	if cfg.Market.CacheTTLSec == 0 {
		cfg.Market.CacheTTLSec = 300
	}
	if cfg.Market.StaleGraceSec == 0 {
		cfg.Market.StaleGraceSec = 600
	}
	if cfg.Charts.Dir == "" {
		cfg.Charts.Dir = "plts"
	}
	if cfg.Charts.MaxCount == 0 {
		cfg.Charts.MaxCount = 500
	}
	if cfg.Charts.MaxAgeHours == 0 {
		cfg.Charts.MaxAgeHours = 24
	}
	if cfg.Charts.Watermark == "" {
		cfg.Charts.Watermark = "By WELLAIOS plot"
	}
	if cfg.Sessions.MaxInFlight == 0 {
		cfg.Sessions.MaxInFlight = 4
	}
	if cfg.Sessions.IdleTimeoutSec == 0 {
		cfg.Sessions.IdleTimeoutSec = 1800
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Server.BearerToken == "" {
		return fmt.Errorf("BEARER_TOKEN is required")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("CMC_KEY is required")
	}
	if c.Server.PublicBaseURL == "" {
		return fmt.Errorf("server.public_base_url (SERVER_DOMAIN) is required")
	}
	if strings.HasSuffix(c.Server.PublicBaseURL, "/") {
		c.Server.PublicBaseURL = strings.TrimRight(c.Server.PublicBaseURL, "/")
	}
	return nil
}

// RequestTimeout returns the overall per-request deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}
