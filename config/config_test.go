package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/region"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
engine:
  memory_limit_pages: 256
  interpreter: true
scheduler:
  concurrency: 2
  timeout: 3s
bench:
  groups: [seq]
  instances: 50
log:
  level: debug
`)
	t.Setenv("SANDBOX_SCHEDULER_CONCURRENCY", "16")
	t.Setenv("SANDBOX_BENCH_FILTER", "fib")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(256), cfg.Engine.MemoryLimitPages)
	assert.True(t, cfg.Engine.Interpreter)
	assert.Equal(t, 16, cfg.Scheduler.Concurrency, "env wins over file")
	assert.Equal(t, 3*time.Second, cfg.Scheduler.Timeout)
	assert.Equal(t, []string{"seq"}, cfg.Bench.Groups)
	assert.Equal(t, 50, cfg.Bench.Instances)
	assert.Equal(t, "fib", cfg.Bench.Filter)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, Default().Region, cfg.Region, "unset sections keep defaults")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "got %v", err)

	_, err = Load(writeFile(t, "engine: [oops"))
	assert.True(t, errors.IsKind(err, errors.KindInvalidData), "got %v", err)

	t.Setenv("SANDBOX_SCHEDULER_CONCURRENCY", "many")
	_, err = Load("")
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput), "got %v", err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero memory limit", func(c *Config) { c.Engine.MemoryLimitPages = 0 }},
		{"memory limit above 4GiB", func(c *Config) { c.Engine.MemoryLimitPages = 65537 }},
		{"unaligned guard", func(c *Config) { c.Region.GuardSize = 1 }},
		{"negative max regions", func(c *Config) { c.Region.MaxRegions = -1 }},
		{"max pool below -1", func(c *Config) { c.Region.MaxPoolPerClass = -2 }},
		{"zero concurrency", func(c *Config) { c.Scheduler.Concurrency = 0 }},
		{"negative timeout", func(c *Config) { c.Scheduler.Timeout = -time.Second }},
		{"zero iterations", func(c *Config) { c.Bench.Iterations = 0 }},
		{"zero instances", func(c *Config) { c.Bench.Instances = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
		})
	}
}

func TestPoolingCanBeDisabled(t *testing.T) {
	cfg := Default()
	cfg.Region.MaxPoolPerClass = -1
	require.NoError(t, cfg.Validate())

	a := region.New(cfg.RegionConfig(nil, nil))
	defer func() { _ = a.Close() }()
	r, err := a.Acquire(1)
	require.NoError(t, err)
	require.NoError(t, a.Release(r))
	assert.Equal(t, 0, a.Stats().Pooled)
	assert.Equal(t, uint64(1), a.Stats().Unmapped)
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Engine.Interpreter = true

	ec := cfg.EngineConfig(nil)
	assert.Equal(t, cfg.Engine.MemoryLimitPages, ec.MemoryLimitPages)
	assert.True(t, ec.Interpreter)

	rc := cfg.RegionConfig(nil, nil)
	assert.Equal(t, cfg.Region.GuardSize, rc.GuardSize)

	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
