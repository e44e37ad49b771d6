// Package config loads sandbox settings: built-in defaults, then an
// optional YAML file, then SANDBOX_* environment variables.
package config

import (
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/region"
)

// EnvPrefix prefixes every environment override, e.g.
// SANDBOX_SCHEDULER_CONCURRENCY.
const EnvPrefix = "SANDBOX"

// Config holds all sandbox configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Region    RegionConfig    `yaml:"region"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Bench     BenchConfig     `yaml:"bench"`
	Log       LogConfig       `yaml:"log"`
}

// EngineConfig holds wasm engine settings.
type EngineConfig struct {
	MemoryLimitPages    uint32 `yaml:"memory_limit_pages" envconfig:"MEMORY_LIMIT_PAGES"`
	Interpreter         bool   `yaml:"interpreter" envconfig:"INTERPRETER"`
	CompilationCacheDir string `yaml:"compilation_cache_dir" envconfig:"COMPILATION_CACHE_DIR"`
	CloseOnContextDone  bool   `yaml:"close_on_context_done" envconfig:"CLOSE_ON_CONTEXT_DONE"`
}

// RegionConfig holds region allocator settings.
type RegionConfig struct {
	GuardSize       int `yaml:"guard_size" envconfig:"GUARD_SIZE"`
	MaxRegions      int `yaml:"max_regions" envconfig:"MAX_REGIONS"`
	MaxPoolPerClass int `yaml:"max_pool_per_class" envconfig:"MAX_POOL_PER_CLASS"`
}

// SchedulerConfig holds batch execution settings.
type SchedulerConfig struct {
	Concurrency int           `yaml:"concurrency" envconfig:"CONCURRENCY"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// BenchConfig holds workload runner settings.
type BenchConfig struct {
	Groups      []string `yaml:"groups" envconfig:"GROUPS"`
	Filter      string   `yaml:"filter" envconfig:"FILTER"`
	Iterations  int      `yaml:"iterations" envconfig:"ITERATIONS"`
	Instances   int      `yaml:"instances" envconfig:"INSTANCES"`
	MetricsAddr string   `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MemoryLimitPages:   engine.DefaultMemoryLimitPages,
			CloseOnContextDone: true,
		},
		Region: RegionConfig{
			GuardSize:       region.DefaultGuardSize,
			MaxRegions:      region.DefaultMaxRegions,
			MaxPoolPerClass: region.DefaultMaxPoolPerClass,
		},
		Scheduler: SchedulerConfig{
			Concurrency: 4,
		},
		Bench: BenchConfig{
			Groups:     []string{"context", "modules", "seq", "par"},
			Iterations: 10,
			Instances:  1000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path may be empty to skip the file.
// Environment variables win over the file, which wins over defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse config file")
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "apply environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the sandbox cannot run with.
func (c *Config) Validate() error {
	invalid := func(path, detail string, v any) error {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(path).
			Value(v).
			Detail("%s", detail).
			Build()
	}

	if c.Engine.MemoryLimitPages == 0 || c.Engine.MemoryLimitPages > 65536 {
		return invalid("engine.memory_limit_pages", "must be between 1 and 65536", c.Engine.MemoryLimitPages)
	}
	if c.Region.GuardSize < 0 || c.Region.GuardSize%os.Getpagesize() != 0 {
		return invalid("region.guard_size", "must be a non-negative multiple of the page size", c.Region.GuardSize)
	}
	if c.Region.MaxRegions < 0 {
		return invalid("region.max_regions", "must not be negative", c.Region.MaxRegions)
	}
	if c.Region.MaxPoolPerClass < -1 {
		return invalid("region.max_pool_per_class", "must be -1 (no pooling), 0 (default) or positive", c.Region.MaxPoolPerClass)
	}
	if c.Scheduler.Concurrency < 1 {
		return invalid("scheduler.concurrency", "must be at least 1", c.Scheduler.Concurrency)
	}
	if c.Scheduler.Timeout < 0 {
		return invalid("scheduler.timeout", "must not be negative", c.Scheduler.Timeout)
	}
	if c.Bench.Iterations < 1 {
		return invalid("bench.iterations", "must be at least 1", c.Bench.Iterations)
	}
	if c.Bench.Instances < 1 {
		return invalid("bench.instances", "must be at least 1", c.Bench.Instances)
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown level", c.Log.Level)
	}
	return nil
}

// EngineConfig converts the engine section for engine.New.
func (c *Config) EngineConfig(logger *zap.Logger) *engine.Config {
	return &engine.Config{
		Logger:              logger,
		CompilationCacheDir: c.Engine.CompilationCacheDir,
		MemoryLimitPages:    c.Engine.MemoryLimitPages,
		Interpreter:         c.Engine.Interpreter,
		CloseOnContextDone:  c.Engine.CloseOnContextDone,
	}
}

// RegionConfig converts the region section for region.New.
func (c *Config) RegionConfig(logger *zap.Logger, obs region.Observer) region.Config {
	return region.Config{
		GuardSize:       c.Region.GuardSize,
		MaxRegions:      c.Region.MaxRegions,
		MaxPoolPerClass: c.Region.MaxPoolPerClass,
		Observer:        obs,
		Logger:          logger,
	}
}

// Logger builds a zap logger from the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
