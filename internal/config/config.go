// Package config provides configuration loading and validation for the cache.
// Supports YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a cache daemon.
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	GC            GCConfig            `yaml:"gc"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type StoreConfig struct {
	// Path is the directory backing the persistent store.
	Path string `yaml:"path" env:"DRIFTCACHE_STORE_PATH"`
	// InMemory backs the store with an in-memory filesystem. Nothing
	// survives a restart.
	InMemory bool `yaml:"inMemory" env:"DRIFTCACHE_STORE_IN_MEMORY"`
}

type GCConfig struct {
	// CacheSizeThresholdBytes is the cache size under which collection
	// passes are skipped. Set to -1 to disable collection entirely.
	CacheSizeThresholdBytes int64 `yaml:"cacheSizeThresholdBytes" env:"DRIFTCACHE_GC_THRESHOLD_BYTES"`
	// PercentileToCollect is the percentage of tracked sequence numbers
	// each pass targets.
	PercentileToCollect int `yaml:"percentileToCollect" env:"DRIFTCACHE_GC_PERCENTILE"`
	// MaximumSequenceNumbersToCollect caps how many sequence numbers one
	// pass may collect.
	MaximumSequenceNumbersToCollect int `yaml:"maximumSequenceNumbersToCollect" env:"DRIFTCACHE_GC_MAX_SEQUENCE_NUMBERS"`
	// InitialDelayMs is how long the scheduler waits before its first pass.
	InitialDelayMs int64 `yaml:"initialDelayMs" env:"DRIFTCACHE_GC_INITIAL_DELAY_MS"`
	// IntervalMs is the delay between passes.
	IntervalMs int64 `yaml:"intervalMs" env:"DRIFTCACHE_GC_INTERVAL_MS"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"DRIFTCACHE_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"DRIFTCACHE_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"DRIFTCACHE_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		GC: GCConfig{
			CacheSizeThresholdBytes:         40 * 1024 * 1024, // 40MB
			PercentileToCollect:             10,
			MaximumSequenceNumbersToCollect: 1000,
			InitialDelayMs:                  60000,  // 1 minute
			IntervalMs:                      300000, // 5 minutes
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load returns the default configuration with environment overrides applied.
// Callers apply their own overrides on top and then run Validate.
func Load() (*Config, error) {
	cfg := Default()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a YAML file. Values absent from the
// file keep their defaults; environment overrides apply on top.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the cache cannot run with.
func (c *Config) Validate() error {
	if c.Store.Path == "" && !c.Store.InMemory {
		return errors.New("config: store path is required unless inMemory is set")
	}
	if c.GC.CacheSizeThresholdBytes < -1 {
		return errors.New("config: cacheSizeThresholdBytes must be non-negative, or -1 to disable collection")
	}
	if c.GC.PercentileToCollect < 0 || c.GC.PercentileToCollect > 100 {
		return errors.New("config: percentileToCollect must be between 0 and 100")
	}
	if c.GC.MaximumSequenceNumbersToCollect <= 0 {
		return errors.New("config: maximumSequenceNumbersToCollect must be positive")
	}
	if c.GC.InitialDelayMs < 0 {
		return errors.New("config: initialDelayMs must be non-negative")
	}
	if c.GC.IntervalMs <= 0 {
		return errors.New("config: intervalMs must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv("DRIFTCACHE_STORE_PATH"); ok {
		cfg.Store.Path = v
	}
	if v, ok := os.LookupEnv("DRIFTCACHE_STORE_IN_MEMORY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: DRIFTCACHE_STORE_IN_MEMORY: %w", err)
		}
		cfg.Store.InMemory = b
	}
	if v, ok := os.LookupEnv("DRIFTCACHE_GC_THRESHOLD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: DRIFTCACHE_GC_THRESHOLD_BYTES: %w", err)
		}
		cfg.GC.CacheSizeThresholdBytes = n
	}
	if v, ok := os.LookupEnv("DRIFTCACHE_GC_PERCENTILE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: DRIFTCACHE_GC_PERCENTILE: %w", err)
		}
		cfg.GC.PercentileToCollect = n
	}
	if v, ok := os.LookupEnv("DRIFTCACHE_GC_MAX_SEQUENCE_NUMBERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: DRIFTCACHE_GC_MAX_SEQUENCE_NUMBERS: %w", err)
		}
		cfg.GC.MaximumSequenceNumbersToCollect = n
	}
	if v, ok := os.LookupEnv("DRIFTCACHE_GC_INITIAL_DELAY_MS"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: DRIFTCACHE_GC_INITIAL_DELAY_MS: %w", err)
		}
		cfg.GC.InitialDelayMs = n
	}
	if v, ok := os.LookupEnv("DRIFTCACHE_GC_INTERVAL_MS"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: DRIFTCACHE_GC_INTERVAL_MS: %w", err)
		}
		cfg.GC.IntervalMs = n
	}
	if v, ok := os.LookupEnv("DRIFTCACHE_METRICS_ADDR"); ok {
		cfg.Observability.MetricsAddr = v
	}
	if v, ok := os.LookupEnv("DRIFTCACHE_LOG_LEVEL"); ok {
		cfg.Observability.LogLevel = v
	}
	if v, ok := os.LookupEnv("DRIFTCACHE_LOG_FORMAT"); ok {
		cfg.Observability.LogFormat = v
	}
	return nil
}
