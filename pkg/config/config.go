// Package config loads and validates the jobrunnerd configuration
// file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultPipelinesDir is the default local directory for persisted
	// pipeline documents.
	DefaultPipelinesDir = "./data"

	// DefaultPollPeriod is the default job status polling period.
	DefaultPollPeriod = "10s"

	// DefaultFinalRefreshDelay is the default delay before the
	// post-terminal refresh of dependent data.
	DefaultFinalRefreshDelay = "2s"

	// DefaultIndexInterval is the default run indexing interval.
	DefaultIndexInterval = "30s"
)

// Config is the root configuration for jobrunnerd.
type Config struct {
	Global    GlobalConfig    `yaml:"global"`
	Server    ServerConfig    `yaml:"server"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Indexing  IndexingConfig  `yaml:"indexing"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty"`
	Admin       AdminConfig     `yaml:"admin,omitempty"`
}

// RateLimitConfig configures per-IP rate limiting on the event ingest
// endpoint.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty"`
}

// AdminConfig protects mutating pipeline endpoints with basic auth.
// PasswordHash is a bcrypt hash.
type AdminConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Username     string `yaml:"username,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty"`
}

// CatalogConfig lists the script templates and resource profiles the
// pipeline editor can attach to new job nodes.
type CatalogConfig struct {
	Scripts  []string `yaml:"scripts,omitempty"`
	Profiles []string `yaml:"profiles,omitempty"`
}

// StorageConfig selects the backend for pipeline and run documents.
// Exactly one backend may be enabled.
type StorageConfig struct {
	Local *LocalStorageConfig `yaml:"local,omitempty"`
	S3    *S3StorageConfig    `yaml:"s3,omitempty"`
}

// LocalStorageConfig stores documents under a local directory.
type LocalStorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// S3StorageConfig stores documents in an S3 bucket.
type S3StorageConfig struct {
	Enabled         bool   `yaml:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// DatabaseConfig contains run database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`
}

// SchedulerConfig points at the external job scheduler API and tunes
// the status polling loop.
type SchedulerConfig struct {
	BaseURL           string `yaml:"base_url"`
	PollPeriod        string `yaml:"poll_period,omitempty"`
	FinalRefreshDelay string `yaml:"final_refresh_delay,omitempty"`
}

// IndexingConfig configures the background run indexer.
type IndexingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Interval    string `yaml:"interval,omitempty"`
	Concurrency int    `yaml:"concurrency,omitempty"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration
// options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = 600
	}

	if c.Storage.Local == nil && c.Storage.S3 == nil {
		c.Storage.Local = &LocalStorageConfig{Enabled: true, Dir: DefaultPipelinesDir}
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "./jobrunner.db"
	}

	if c.Scheduler.PollPeriod == "" {
		c.Scheduler.PollPeriod = DefaultPollPeriod
	}

	if c.Scheduler.FinalRefreshDelay == "" {
		c.Scheduler.FinalRefreshDelay = DefaultFinalRefreshDelay
	}

	if c.Indexing.Interval == "" {
		c.Indexing.Interval = DefaultIndexInterval
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Storage.Local != nil && c.Storage.Local.Enabled &&
		c.Storage.S3 != nil && c.Storage.S3.Enabled {
		return fmt.Errorf("storage: only one of local and s3 may be enabled")
	}

	if c.Storage.S3 != nil && c.Storage.S3.Enabled && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3: bucket is required")
	}

	if c.Storage.Local != nil && c.Storage.Local.Enabled && c.Storage.Local.Dir == "" {
		return fmt.Errorf("storage.local: dir is required")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database: unsupported driver %q", c.Database.Driver)
	}

	if c.Server.Admin.Enabled {
		if c.Server.Admin.Username == "" || c.Server.Admin.PasswordHash == "" {
			return fmt.Errorf("server.admin: username and password_hash are required when enabled")
		}
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"scheduler.poll_period", c.Scheduler.PollPeriod},
		{"scheduler.final_refresh_delay", c.Scheduler.FinalRefreshDelay},
		{"indexing.interval", c.Indexing.Interval},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", field.name, field.value)
		}
	}

	return nil
}

// PollPeriodDuration returns the parsed polling period.
func (c *SchedulerConfig) PollPeriodDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollPeriod)

	return d
}

// FinalRefreshDelayDuration returns the parsed final refresh delay.
func (c *SchedulerConfig) FinalRefreshDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.FinalRefreshDelay)

	return d
}

// IntervalDuration returns the parsed indexing interval.
func (c *IndexingConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)

	return d
}
