package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/hostcall"
	"github.com/wippyai/wasm-sandbox/region"
)

// Options configures a Runtime. Nil fields are created from defaults; a
// Runtime closes only what it created.
type Options struct {
	Engine       *engine.Engine
	EngineConfig *engine.Config
	Allocator    *region.Allocator
	RegionConfig region.Config
	Table        *hostcall.Table // defaults to the linked process table
	Logger       *zap.Logger     // defaults to engine.Logger()
}

// Runtime ties an engine, a region allocator and a host-call table
// together and creates instances from them.
type Runtime struct {
	engine     *engine.Engine
	alloc      *region.Allocator
	table      *hostcall.Table
	logger     *zap.Logger
	ownsEngine bool
	ownsAlloc  bool
}

func New(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = engine.Logger()
	}

	table := opts.Table
	if table == nil {
		t, err := hostcall.EnsureLinked()
		if err != nil {
			return nil, errors.Wrap(errors.PhaseHost, errors.KindRegistration, err, "link host functions")
		}
		table = t
	}

	r := &Runtime{
		engine: opts.Engine,
		alloc:  opts.Allocator,
		table:  table,
		logger: logger.Named("runtime"),
	}

	if r.engine == nil {
		cfg := engine.Config{}
		if opts.EngineConfig != nil {
			cfg = *opts.EngineConfig
		}
		if cfg.Logger == nil {
			cfg.Logger = logger
		}
		eng, err := engine.New(ctx, &cfg, table)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "create engine")
		}
		r.engine = eng
		r.ownsEngine = true
	}

	if r.alloc == nil {
		rc := opts.RegionConfig
		if rc.Logger == nil {
			rc.Logger = logger
		}
		r.alloc = region.New(rc)
		r.ownsAlloc = true
	}

	return r, nil
}

func (r *Runtime) Engine() *engine.Engine       { return r.engine }
func (r *Runtime) Allocator() *region.Allocator { return r.alloc }
func (r *Runtime) Table() *hostcall.Table       { return r.table }

// Load validates and compiles a module.
func (r *Runtime) Load(ctx context.Context, bin []byte, opts engine.LoadOptions) (*engine.Module, error) {
	return r.engine.Load(ctx, bin, opts)
}

// LoadFile loads a .wasm or zstd-compressed .wasm.zst module from disk.
func (r *Runtime) LoadFile(ctx context.Context, path string, opts engine.LoadOptions) (*engine.Module, error) {
	return r.engine.LoadFile(ctx, path, opts)
}

// RegionSize returns the region size an instance of mod needs to reach
// its maximum memory.
func (r *Runtime) RegionSize(mod *engine.Module) uint64 {
	if size := mod.MaxBytes(); size > 0 {
		return size
	}
	return uint64(r.alloc.PageSize())
}

// Create binds mod to a region the caller owns. The caller releases the
// region after closing the instance. On success the region holds the
// module's initial image and the instance is Idle.
func (r *Runtime) Create(ctx context.Context, mod *engine.Module, reg *region.Region) (*Instance, error) {
	return r.create(ctx, mod, reg, false)
}

// NewInstance acquires a region sized for mod and creates an instance on
// it. The region returns to the pool when the instance is closed.
func (r *Runtime) NewInstance(ctx context.Context, mod *engine.Module) (*Instance, error) {
	reg, err := r.alloc.Acquire(r.RegionSize(mod))
	if err != nil {
		return nil, err
	}
	inst, err := r.create(ctx, mod, reg, true)
	if err != nil {
		if rerr := r.alloc.Release(reg); rerr != nil {
			r.logger.Warn("release region after failed create", zap.Error(rerr))
		}
		return nil, err
	}
	return inst, nil
}

// Close closes the engine and allocator if the runtime created them.
// Instances must be closed first.
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	if r.ownsEngine {
		err = r.engine.Close(ctx)
	}
	if r.ownsAlloc {
		if aerr := r.alloc.Close(); err == nil {
			err = aerr
		}
	}
	return err
}
