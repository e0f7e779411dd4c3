// Package config loads the ingest scheduler's configuration from the
// environment, with the INGEST_ prefix.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config holds every recognized configuration key for the ingest
// scheduler. Environment variables are parsed with the INGEST_ prefix,
// e.g. INGEST_MAX_ATTEMPTS, INGEST_DATA_DIR.
type Config struct {
	// DataDir is the directory holding the embedded SQLite database file.
	DataDir string `envconfig:"DATA_DIR" default:""`

	// MaxAttempts bounds retries per queue item.
	MaxAttempts int `envconfig:"MAX_ATTEMPTS" default:"5"`

	// StaleThreshold is the age after which a running item is reclaimed
	// by reset_stale_running.
	StaleThreshold time.Duration `envconfig:"STALE_THRESHOLD" default:"10m"`

	// VendorTimeout bounds a single vendor fetch call.
	VendorTimeout time.Duration `envconfig:"VENDOR_TIMEOUT" default:"20s"`

	// DefaultWindowDays is used when a request does not override window_days.
	DefaultWindowDays int `envconfig:"DEFAULT_WINDOW_DAYS" default:"365"`

	// MinArchiveKeepDays is the lower bound accepted by the archive command.
	MinArchiveKeepDays int `envconfig:"MIN_ARCHIVE_KEEP_DAYS" default:"30"`

	// WorkerConcurrency bounds the per-job worker pool size.
	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"4"`

	// Vendor HTTP client configuration.
	VendorBaseURL         string  `envconfig:"VENDOR_BASE_URL" default:""`
	VendorAPIKey          string  `envconfig:"VENDOR_API_KEY" default:""`
	VendorRateLimitPerSec float64 `envconfig:"VENDOR_RATE_LIMIT_PER_SEC" default:"8"`

	// HTTPPort is the ingest API listen port.
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	ServiceName string `envconfig:"SERVICE_NAME" default:"ingest-service"`
}

// New parses environment variables prefixed with INGEST_ into a Config
// and applies derived defaults.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("INGEST", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("max_attempts", cfg.MaxAttempts).
		Dur("stale_threshold", cfg.StaleThreshold).
		Dur("vendor_timeout", cfg.VendorTimeout).
		Int("default_window_days", cfg.DefaultWindowDays).
		Int("min_archive_keep_days", cfg.MinArchiveKeepDays).
		Int("worker_concurrency", cfg.WorkerConcurrency).
		Int("http_port", cfg.HTTPPort).
		Msg("configuration loaded")

	return &cfg, nil
}

// ResolveDefaults fills in derived values and validates cross-field
// constraints that envconfig tags cannot express.
func (c *Config) ResolveDefaults() error {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be >= 1, got %d", c.MaxAttempts)
	}
	if c.DefaultWindowDays < 1 {
		return fmt.Errorf("DEFAULT_WINDOW_DAYS must be >= 1, got %d", c.DefaultWindowDays)
	}
	if c.MinArchiveKeepDays < 30 {
		return fmt.Errorf("MIN_ARCHIVE_KEEP_DAYS must be >= 30, got %d", c.MinArchiveKeepDays)
	}
	if c.WorkerConcurrency < 1 {
		c.WorkerConcurrency = 1
	}
	return nil
}

// NewForTesting builds a Config with safe defaults and an isolated data
// directory, for use in package tests.
func NewForTesting(dataDir string) *Config {
	cfg := &Config{
		DataDir:               dataDir,
		MaxAttempts:           5,
		StaleThreshold:        10 * time.Minute,
		VendorTimeout:         20 * time.Second,
		DefaultWindowDays:     365,
		MinArchiveKeepDays:    30,
		WorkerConcurrency:     4,
		VendorRateLimitPerSec: 8,
		HTTPPort:              8080,
		ServiceName:           "ingest-service-test",
	}
	return cfg
}
