package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	ClientID     string
	ClientSecret string
	AuthPath     string
	CacheDir     string
	PageSize     int
	PageDelay    time.Duration
	Concurrency  int
	LogLevel     string
	HTTPTimeout  time.Duration
}

// Load reads configuration from environment variables. The Strava API
// credentials use the unprefixed names the original tooling established
// (STRAVA_CLIENT_ID / STRAVA_CLIENT_SECRET); everything else is namespaced
// under STRAVASYNC_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STRAVASYNC")
	v.AutomaticEnv()

	v.BindEnv("client_id", "STRAVA_CLIENT_ID")
	v.BindEnv("client_secret", "STRAVA_CLIENT_SECRET")

	v.SetDefault("auth_path", "auth.json")
	v.SetDefault("cache_dir", "cache")
	v.SetDefault("page_size", 30)
	v.SetDefault("page_delay", "1s")
	v.SetDefault("concurrency", 2)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("http_timeout", "30s")

	cfg := &Config{
		ClientID:     v.GetString("client_id"),
		ClientSecret: v.GetString("client_secret"),
		AuthPath:     v.GetString("auth_path"),
		CacheDir:     v.GetString("cache_dir"),
		PageSize:     v.GetInt("page_size"),
		PageDelay:    v.GetDuration("page_delay"),
		Concurrency:  v.GetInt("concurrency"),
		LogLevel:     v.GetString("log_level"),
		HTTPTimeout:  v.GetDuration("http_timeout"),
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("STRAVA_CLIENT_ID and STRAVA_CLIENT_SECRET environment variables are required")
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 200 {
		return nil, fmt.Errorf("page_size must be between 1 and 200, got %d", cfg.PageSize)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return cfg, nil
}
