package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/hostcall"
	"github.com/wippyai/wasm-sandbox/region"
)

// DefaultMemoryLimitPages caps linear memory at 1GiB per instance when a
// module declares no smaller maximum.
const DefaultMemoryLimitPages = 16384

// Config holds configuration for engine creation
type Config struct {
	// Logger receives engine events. Defaults to the package logger.
	Logger *zap.Logger

	// CompilationCacheDir persists compiled code across processes when set.
	CompilationCacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means DefaultMemoryLimitPages.
	MemoryLimitPages uint32

	// Interpreter selects wazero's interpreter instead of the compiler.
	Interpreter bool

	// CloseOnContextDone makes guest code observe cancellation of the
	// context an instance run was started with.
	CloseOnContextDone bool
}

// Engine compiles modules and instantiates them onto regions. It is safe
// for concurrent use.
type Engine struct {
	runtime   wazero.Runtime
	cache     wazero.CompilationCache
	logger    *zap.Logger
	hostFuncs map[string]*hostcall.Func
	modules   map[moduleKey]*Module
	cfg       Config
	mu        sync.Mutex
	closed    bool
}

// New creates an engine whose guest modules may import the functions of
// table under the sandbox namespace. The table is snapshotted: functions
// registered after New are not visible to guests of this engine.
func New(ctx context.Context, cfg *Config, table *hostcall.Table) (*Engine, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.MemoryLimitPages == 0 {
		c.MemoryLimitPages = DefaultMemoryLimitPages
	}
	if c.Logger == nil {
		c.Logger = Logger()
	}
	if table == nil {
		table = hostcall.NewTable()
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if c.Interpreter {
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	}
	runtimeCfg = runtimeCfg.
		WithMemoryLimitPages(c.MemoryLimitPages).
		WithCloseOnContextDone(c.CloseOnContextDone)

	e := &Engine{
		cfg:       c,
		logger:    c.Logger.Named("engine"),
		hostFuncs: make(map[string]*hostcall.Func),
		modules:   make(map[moduleKey]*Module),
	}

	if c.CompilationCacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(c.CompilationCacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "open compilation cache")
		}
		e.cache = cache
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if err := e.instantiateHostModule(ctx, table); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, err
	}

	e.logger.Debug("engine ready",
		zap.Bool("interpreter", c.Interpreter),
		zap.Uint32("memory_limit_pages", c.MemoryLimitPages),
		zap.Int("host_functions", len(e.hostFuncs)))
	return e, nil
}

// MemoryLimitPages returns the per-instance memory cap in pages.
func (e *Engine) MemoryLimitPages() uint32 {
	return e.cfg.MemoryLimitPages
}

// HostFunc returns the host function guests of this engine can import
// under name.
func (e *Engine) HostFunc(name string) (*hostcall.Func, bool) {
	f, ok := e.hostFuncs[name]
	return f, ok
}

func (e *Engine) instantiateHostModule(ctx context.Context, table *hostcall.Table) error {
	funcs := table.Funcs()
	if len(funcs) == 0 {
		return nil
	}
	builder := e.runtime.NewHostModuleBuilder(hostcall.Namespace)
	for _, f := range funcs {
		e.hostFuncs[f.Name] = f
		builder.NewFunctionBuilder().
			WithGoModuleFunction(hostFunction(f), f.Signature.Params, f.Signature.Results).
			WithName(f.Name).
			Export(f.Name)
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		return errors.Registration(errors.PhaseHost, hostcall.Namespace, "*", err)
	}
	return nil
}

// Instantiate creates a wazero instance of m whose linear memory lives in
// reg. Active data segments are written into the region during
// instantiation, so on success the committed prefix of reg holds exactly
// the module's initial image.
func (e *Engine) Instantiate(ctx context.Context, m *Module, reg *region.Region) (api.Module, error) {
	if m.engine != e {
		return nil, errors.InvalidInput(errors.PhaseInstantiate, "module was loaded by a different engine")
	}
	if m.layout.Present && uint64(reg.Size()) < m.MinBytes() {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidInput).
			Value(reg.Size()).
			Detail("region of %d bytes cannot hold initial memory of %d bytes", reg.Size(), m.MinBytes()).
			Build()
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, errors.Closed(errors.PhaseInstantiate, "engine")
	}
	m.refMu.Lock()
	freed := m.freed
	m.refMu.Unlock()
	if freed {
		return nil, errors.Closed(errors.PhaseInstantiate, "module "+m.name)
	}

	ctx = experimental.WithMemoryAllocator(ctx, regionAllocator(reg))
	mod, err := e.runtime.InstantiateModule(ctx, m.compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	return mod, nil
}

// Close releases the wazero runtime, every module it compiled and the
// compilation cache.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.modules = nil
	e.mu.Unlock()

	err := e.runtime.Close(ctx)
	if e.cache != nil {
		if cerr := e.cache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}
