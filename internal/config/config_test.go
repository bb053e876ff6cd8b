package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitolmirror/capitolmirror/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "https://api.congress.gov/v3", cfg.API.BaseURL)
	assert.Equal(t, 1.0, cfg.API.RateLimit.RequestsPerSecond)
	assert.Equal(t, 3, cfg.API.RateLimit.Retries())
	assert.Equal(t, "dynamo", cfg.Store.Backend)
	assert.Equal(t, "per_date", cfg.Store.Deduplication.ResetFrequency)
	assert.Equal(t, 256, cfg.Store.Deduplication.MemoryThresholdMB)
	assert.Equal(t, 100, cfg.Ingest.BatchSize)
	assert.Equal(t, 250, cfg.Ingest.PageSize)
	assert.Equal(t, 7, cfg.Ingest.DefaultLookbackDays)
	assert.Equal(t, 365, cfg.Ingest.DateRanges.MaxRangeDays)
	assert.Equal(t, domain.MinDate, cfg.Ingest.DateRanges.MinDate)
	assert.Equal(t, 3, cfg.Ingest.Parallel.MaxWorkers)
	assert.Equal(t, ":8600", cfg.Server.ListenAddr)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
api:
  rate_limit:
    requests_per_second: 2.5
    max_retries: 5
  endpoint_rate_limits:
    bill: 4.0
  timeout_config:
    treaty:
      connect: 2
      read: 10
store:
  backend: postgres
  deduplication:
    enabled: true
    reset_frequency: per_range
ingest:
  batch_size: 50
  parallel:
    max_workers: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.API.RateLimit.RequestsPerSecond)
	assert.Equal(t, 5, cfg.API.RateLimit.Retries())
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.True(t, cfg.Store.Deduplication.Enabled)
	assert.Equal(t, "per_range", cfg.Store.Deduplication.ResetFrequency)
	assert.Equal(t, 50, cfg.Ingest.BatchSize)
	assert.Equal(t, 5, cfg.Ingest.Parallel.MaxWorkers)

	assert.Equal(t, 4.0, cfg.RateFor(domain.FamilyBill))
	assert.Equal(t, 2.5, cfg.RateFor(domain.FamilyTreaty), "unlisted family falls back to the default rate")

	tc := cfg.TimeoutsFor(domain.FamilyTreaty)
	assert.Equal(t, 2.0, tc.Connect)
	assert.Equal(t, 10.0, tc.Read)
	tc = cfg.TimeoutsFor(domain.FamilyBill)
	assert.Equal(t, 5.0, tc.Connect)
	assert.Equal(t, 30.0, tc.Read)
}

func TestExplicitZeroRetries(t *testing.T) {
	path := writeConfig(t, `
api:
  rate_limit:
    max_retries: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.API.RateLimit.Retries(), "explicit zero must not be replaced by the default")
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]string{
		"unknown backend": `
store:
  backend: cassandra
`,
		"unknown reset frequency": `
store:
  deduplication:
    reset_frequency: hourly
`,
		"too many workers": `
ingest:
  parallel:
    max_workers: 11
`,
		"bad min date": `
ingest:
  date_ranges:
    min_date: 1700-01-01
`,
		"unknown rate limit family": `
api:
  endpoint_rate_limits:
    bills: 2.0
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadSecretsFromEnvironment(t *testing.T) {
	t.Setenv("CONGRESS_API_KEY", "test-key")
	t.Setenv("CAPMIRROR_POSTGRES_DSN", "postgres://localhost/capmirror")
	t.Setenv("CAPMIRROR_REDIS_PASSWORD", "hunter2")

	secrets := LoadSecrets()
	assert.Equal(t, "test-key", secrets.APIKey)
	assert.Equal(t, "postgres://localhost/capmirror", secrets.PostgresDSN)
	assert.Equal(t, "hunter2", secrets.RedisPass)
}
