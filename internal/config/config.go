package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/capitolmirror/capitolmirror/internal/domain"
)

// Config is the full process configuration. Secrets (API key, store and
// Redis credentials) are never read from this file; see Secrets.
type Config struct {
	API    APIConfig    `yaml:"api"`
	Store  StoreConfig  `yaml:"store"`
	Ingest IngestConfig `yaml:"ingest"`
	Server ServerConfig `yaml:"server"`
}

// APIConfig configures the upstream Congress.gov client.
type APIConfig struct {
	BaseURL            string                   `yaml:"base_url"`
	RateLimit          RateLimitConfig          `yaml:"rate_limit"`
	EndpointRateLimits map[string]float64       `yaml:"endpoint_rate_limits"`
	TimeoutConfig      map[string]TimeoutConfig `yaml:"timeout_config"`
}

// RateLimitConfig holds the governor defaults. MaxRetries is a pointer so an
// explicit zero (never retry) survives defaulting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        *int    `yaml:"max_retries"`
	RetryDelay        float64 `yaml:"retry_delay"` // base backoff seconds
}

// Retries returns the per-page retry cap.
func (r RateLimitConfig) Retries() int {
	if r.MaxRetries == nil {
		return 3
	}
	if *r.MaxRetries < 0 {
		return 0
	}
	return *r.MaxRetries
}

// TimeoutConfig is a per-family (connect, read) timeout pair in seconds.
type TimeoutConfig struct {
	Connect float64 `yaml:"connect"`
	Read    float64 `yaml:"read"`
}

// ConnectDuration returns the connect timeout as a duration.
func (t TimeoutConfig) ConnectDuration() time.Duration {
	return time.Duration(t.Connect * float64(time.Second))
}

// ReadDuration returns the read timeout as a duration.
func (t TimeoutConfig) ReadDuration() time.Duration {
	return time.Duration(t.Read * float64(time.Second))
}

// StoreConfig selects and configures the store adapter.
type StoreConfig struct {
	Backend       string      `yaml:"backend"` // "dynamo", "postgres" or "memory"
	TableName     string      `yaml:"table_name"`
	Region        string      `yaml:"region"`
	Deduplication DedupConfig `yaml:"deduplication"`
}

// DedupConfig controls the processed-ID set.
type DedupConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ResetFrequency    string `yaml:"reset_frequency"` // per_date | per_range | per_session
	MemoryThresholdMB int    `yaml:"memory_threshold_mb"`
	RedisAddr         string `yaml:"redis_addr"` // empty = in-memory set
	RedisDB           int    `yaml:"redis_db"`
}

// IngestConfig tunes the traversal and writer.
type IngestConfig struct {
	BatchSize           int             `yaml:"batch_size"`
	PageSize            int             `yaml:"page_size"`
	DefaultLookbackDays int             `yaml:"default_lookback_days"`
	DateRanges          DateRangeConfig `yaml:"date_ranges"`
	Parallel            ParallelConfig  `yaml:"parallel"`
}

// DateRangeConfig bounds requested windows.
type DateRangeConfig struct {
	MaxRangeDays int    `yaml:"max_range_days"`
	MinDate      string `yaml:"min_date"`
}

// ParallelConfig sizes the worker pool.
type ParallelConfig struct {
	MaxWorkers int `yaml:"max_workers"`
	ChunkSize  int `yaml:"chunk_size"`
}

// ServerConfig configures the read-only HTTP surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Secrets are resolved from the process environment only.
type Secrets struct {
	APIKey      string
	PostgresDSN string
	RedisPass   string
}

// LoadSecrets reads credentials from the environment. AWS credentials are
// resolved by the SDK's default chain and are not duplicated here.
func LoadSecrets() Secrets {
	return Secrets{
		APIKey:      os.Getenv("CONGRESS_API_KEY"),
		PostgresDSN: os.Getenv("CAPMIRROR_POSTGRES_DSN"),
		RedisPass:   os.Getenv("CAPMIRROR_REDIS_PASSWORD"),
	}
}

// Default returns the built-in configuration.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates a YAML config file.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://api.congress.gov/v3"
	}
	if c.API.RateLimit.RequestsPerSecond <= 0 {
		c.API.RateLimit.RequestsPerSecond = 1.0
	}
	if c.API.RateLimit.RetryDelay <= 0 {
		c.API.RateLimit.RetryDelay = 1.0
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "dynamo"
	}
	if c.Store.TableName == "" {
		c.Store.TableName = "congress-mirror"
	}
	if c.Store.Region == "" {
		c.Store.Region = "us-east-1"
	}
	if c.Store.Deduplication.ResetFrequency == "" {
		c.Store.Deduplication.ResetFrequency = "per_date"
	}
	if c.Store.Deduplication.MemoryThresholdMB <= 0 {
		c.Store.Deduplication.MemoryThresholdMB = 256
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 100
	}
	if c.Ingest.PageSize <= 0 {
		c.Ingest.PageSize = 250
	}
	if c.Ingest.DefaultLookbackDays <= 0 {
		c.Ingest.DefaultLookbackDays = 7
	}
	if c.Ingest.DateRanges.MaxRangeDays <= 0 {
		c.Ingest.DateRanges.MaxRangeDays = 365
	}
	if c.Ingest.DateRanges.MinDate == "" {
		c.Ingest.DateRanges.MinDate = domain.MinDate
	}
	if c.Ingest.Parallel.MaxWorkers <= 0 {
		c.Ingest.Parallel.MaxWorkers = 3
	}
	if c.Ingest.Parallel.ChunkSize <= 0 {
		c.Ingest.Parallel.ChunkSize = 8
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8600"
	}
}

// Validate rejects configurations the run driver cannot honor.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "dynamo", "postgres", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Store.Deduplication.ResetFrequency {
	case "per_date", "per_range", "per_session":
	default:
		return fmt.Errorf("unknown reset_frequency %q", c.Store.Deduplication.ResetFrequency)
	}
	if c.Ingest.Parallel.MaxWorkers > 10 {
		return fmt.Errorf("parallel.max_workers %d exceeds limit 10", c.Ingest.Parallel.MaxWorkers)
	}
	if !domain.ValidDate(c.Ingest.DateRanges.MinDate) {
		return fmt.Errorf("invalid date_ranges.min_date %q", c.Ingest.DateRanges.MinDate)
	}
	for family := range c.API.EndpointRateLimits {
		if _, ok := domain.ParseFamily(family); !ok {
			return fmt.Errorf("endpoint_rate_limits: unknown family %q", family)
		}
	}
	for family := range c.API.TimeoutConfig {
		if _, ok := domain.ParseFamily(family); !ok {
			return fmt.Errorf("timeout_config: unknown family %q", family)
		}
	}
	return nil
}

// RateFor returns the effective requests-per-second for a family.
func (c *Config) RateFor(f domain.Family) float64 {
	if rps, ok := c.API.EndpointRateLimits[string(f)]; ok && rps > 0 {
		return rps
	}
	return c.API.RateLimit.RequestsPerSecond
}

// TimeoutsFor returns the (connect, read) pair for a family, falling back to
// 5s/30s when unset.
func (c *Config) TimeoutsFor(f domain.Family) TimeoutConfig {
	if tc, ok := c.API.TimeoutConfig[string(f)]; ok {
		if tc.Connect <= 0 {
			tc.Connect = 5
		}
		if tc.Read <= 0 {
			tc.Read = 30
		}
		return tc
	}
	return TimeoutConfig{Connect: 5, Read: 30}
}
