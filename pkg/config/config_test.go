package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
scheduler:
  base_url: http://scheduler:9000
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.Global.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "./jobrunner.db", cfg.Database.SQLite.Path)
	require.NotNil(t, cfg.Storage.Local)
	assert.True(t, cfg.Storage.Local.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.PollPeriodDuration())
	assert.Equal(t, 2*time.Second, cfg.Scheduler.FinalRefreshDelayDuration())
	assert.Equal(t, 30*time.Second, cfg.Indexing.IntervalDuration())
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
global:
  log_level: debug
server:
  listen: ":9090"
  cors_origins: ["https://dashboard.example.org"]
  rate_limit:
    enabled: true
    requests_per_minute: 1200
  admin:
    enabled: true
    username: ops
    password_hash: "$2a$10$abcdefghijklmnopqrstuv"
catalog:
  scripts: [pin, install, prepare, run]
  profiles: [cpu, gpu-small, A100]
storage:
  s3:
    enabled: true
    bucket: jobrunner-data
    region: us-east-1
    prefix: prod
database:
  driver: postgres
  postgres:
    host: db
    port: 5432
    user: jobrunner
    password: secret
    database: jobrunner
scheduler:
  base_url: http://scheduler:9000
  poll_period: 5s
indexing:
  enabled: true
  interval: 1m
  concurrency: 8
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, 1200, cfg.Server.RateLimit.RequestsPerMinute)
	assert.Equal(t, []string{"pin", "install", "prepare", "run"}, cfg.Catalog.Scripts)
	require.NotNil(t, cfg.Storage.S3)
	assert.Equal(t, "jobrunner-data", cfg.Storage.S3.Bucket)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollPeriodDuration())
	assert.Equal(t, time.Minute, cfg.Indexing.IntervalDuration())
	assert.Equal(t, 8, cfg.Indexing.Concurrency)
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "both storage backends enabled",
			mutate: func(c *Config) {
				c.Storage.Local = &LocalStorageConfig{Enabled: true, Dir: "/data"}
				c.Storage.S3 = &S3StorageConfig{Enabled: true, Bucket: "b"}
			},
			wantErr: "only one of local and s3",
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.Storage.Local = nil
				c.Storage.S3 = &S3StorageConfig{Enabled: true}
			},
			wantErr: "bucket is required",
		},
		{
			name: "bad database driver",
			mutate: func(c *Config) {
				c.Database.Driver = "oracle"
			},
			wantErr: "unsupported driver",
		},
		{
			name: "admin without credentials",
			mutate: func(c *Config) {
				c.Server.Admin.Enabled = true
			},
			wantErr: "username and password_hash",
		},
		{
			name: "bad poll period",
			mutate: func(c *Config) {
				c.Scheduler.PollPeriod = "soon"
			},
			wantErr: "invalid duration",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "global: [unclosed"))
	require.Error(t, err)
}
