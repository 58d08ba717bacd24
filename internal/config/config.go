// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// APIBaseURL is the base URL of the room-access API (e.g. https://api.example.com/prod).
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	// HTTPTimeout is the per-request HTTP timeout (e.g. "15s").
	HTTPTimeout string `mapstructure:"HTTP_TIMEOUT"`
	// DataDir is the directory holding the sealed local key-value store. Defaults to ~/.roomctl.
	DataDir string `mapstructure:"DATA_DIR"`
	// DeviceName overrides the registered device name; hostname is used when empty.
	DeviceName string `mapstructure:"DEVICE_NAME"`
	// UnlockPollInterval is the delay between unlock-status polls during level-3 check-in (e.g. "5s").
	UnlockPollInterval string `mapstructure:"UNLOCK_POLL_INTERVAL"`
	// UnlockPollMaxAttempts bounds the unlock-status polling loop; the flow times out once reached.
	UnlockPollMaxAttempts int `mapstructure:"UNLOCK_POLL_MAX_ATTEMPTS"`
	// ResumeSettleDelay is the wait before the accelerated poll after the app regains focus (e.g. "2s").
	ResumeSettleDelay string `mapstructure:"RESUME_SETTLE_DELAY"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint for telemetry (e.g. http://localhost:4317).
	// Telemetry is disabled when empty.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints (standard OTEL_EXPORTER_OTLP_INSECURE behavior).
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("API_BASE_URL", "")
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("DATA_DIR", "")
	v.SetDefault("DEVICE_NAME", "")
	v.SetDefault("UNLOCK_POLL_INTERVAL", "5s")
	v.SetDefault("UNLOCK_POLL_MAX_ATTEMPTS", 10)
	v.SetDefault("RESUME_SETTLE_DELAY", "2s")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.APIBaseURL == "" {
		return nil, errors.New("config: API_BASE_URL must be set")
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	if cfg.UnlockPollMaxAttempts <= 0 {
		cfg.UnlockPollMaxAttempts = 10
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.New("config: DATA_DIR must be set when the home directory is unknown")
		}
		cfg.DataDir = filepath.Join(home, ".roomctl")
	}

	return &cfg, nil
}

// Timeout parses HTTPTimeout as a time.Duration. Returns 15s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.HTTPTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// PollInterval parses UnlockPollInterval. Returns 5s if unset or invalid.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.UnlockPollInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// SettleDelay parses ResumeSettleDelay. Returns 2s if unset or invalid.
func (c *Config) SettleDelay() time.Duration {
	d, err := time.ParseDuration(c.ResumeSettleDelay)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}
