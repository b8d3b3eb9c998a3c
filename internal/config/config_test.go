package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, int64(40*1024*1024), cfg.GC.CacheSizeThresholdBytes)
	assert.Equal(t, 10, cfg.GC.PercentileToCollect)
	assert.Equal(t, 1000, cfg.GC.MaximumSequenceNumbersToCollect)
	assert.Equal(t, int64(60000), cfg.GC.InitialDelayMs)
	assert.Equal(t, int64(300000), cfg.GC.IntervalMs)
	assert.Equal(t, ":9090", cfg.Observability.MetricsAddr)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
store:
  path: /var/lib/driftcache
gc:
  cacheSizeThresholdBytes: 1048576
  percentileToCollect: 25
observability:
  logLevel: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/driftcache", cfg.Store.Path)
	assert.Equal(t, int64(1048576), cfg.GC.CacheSizeThresholdBytes)
	assert.Equal(t, 25, cfg.GC.PercentileToCollect)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)

	// Values absent from the file keep their defaults.
	assert.Equal(t, 1000, cfg.GC.MaximumSequenceNumbersToCollect)
	assert.Equal(t, int64(300000), cfg.GC.IntervalMs)
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromPathInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gc: [not a map"), 0o644))

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DRIFTCACHE_STORE_PATH", "/data/cache")
	t.Setenv("DRIFTCACHE_GC_THRESHOLD_BYTES", "-1")
	t.Setenv("DRIFTCACHE_GC_PERCENTILE", "50")
	t.Setenv("DRIFTCACHE_LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/cache", cfg.Store.Path)
	assert.Equal(t, int64(-1), cfg.GC.CacheSizeThresholdBytes)
	assert.Equal(t, 50, cfg.GC.PercentileToCollect)
	assert.Equal(t, "text", cfg.Observability.LogFormat)
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
gc:
  percentileToCollect: 25
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("DRIFTCACHE_GC_PERCENTILE", "75")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.GC.PercentileToCollect)
}

func TestEnvOverrideRejectsBadValue(t *testing.T) {
	t.Setenv("DRIFTCACHE_GC_PERCENTILE", "lots")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Store.InMemory = true
		return cfg
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Store.InMemory = false
	assert.Error(t, cfg.Validate(), "store path is required")

	cfg = valid()
	cfg.GC.CacheSizeThresholdBytes = -2
	assert.Error(t, cfg.Validate(), "threshold below -1")

	cfg = valid()
	cfg.GC.CacheSizeThresholdBytes = -1
	assert.NoError(t, cfg.Validate(), "-1 disables collection")

	cfg = valid()
	cfg.GC.PercentileToCollect = 101
	assert.Error(t, cfg.Validate(), "percentile over 100")

	cfg = valid()
	cfg.GC.MaximumSequenceNumbersToCollect = 0
	assert.Error(t, cfg.Validate(), "zero collection cap")

	cfg = valid()
	cfg.GC.IntervalMs = 0
	assert.Error(t, cfg.Validate(), "zero interval")
}
