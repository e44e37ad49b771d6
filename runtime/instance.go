package runtime

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/hostcall"
	"github.com/wippyai/wasm-sandbox/region"
)

// Instance is one runnable execution context: a module bound to a region.
//
// An instance is driven by one caller at a time. Run, Resume, ResumeTrap,
// Reset and Close fail with an invalid_state error instead of blocking
// when another goroutine is inside one of them.
type Instance struct {
	rt      *Runtime
	module  *engine.Module
	region  *region.Region
	mod     api.Module
	entry   api.Function
	sw      *guestSwitch // nil when the module imports no host functions
	mem     *callMemory
	pending *hostcall.Call
	logger  *zap.Logger
	runs    atomic.Uint64
	state   atomic.Uint32
	busy    atomic.Bool
	id      uuid.UUID
	owned   bool // region is released on Close
}

func (r *Runtime) create(ctx context.Context, mod *engine.Module, reg *region.Region, owned bool) (*Instance, error) {
	if mod == nil || reg == nil {
		return nil, errors.InvalidInput(errors.PhaseInstantiate, "module and region are required")
	}
	i := &Instance{
		rt:     r,
		module: mod,
		region: reg,
		owned:  owned,
		id:     uuid.New(),
	}
	if mod.HostImports() > 0 {
		i.sw = newGuestSwitch()
	}
	i.logger = r.logger.With(zap.Stringer("instance", i.id), zap.String("module", mod.Name()))

	if err := mod.Retain(); err != nil {
		return nil, err
	}
	if err := i.instantiate(ctx); err != nil {
		_ = mod.Release(ctx)
		return nil, err
	}
	i.state.Store(uint32(StateIdle))
	i.logger.Debug("instance created", zap.Uint64("generation", reg.Generation()))
	return i, nil
}

// instantiate scrubs the region and builds a fresh wazero instance on it,
// which writes the module's initial image.
func (i *Instance) instantiate(ctx context.Context) error {
	if err := i.region.Reset(); err != nil {
		return err
	}
	m, err := i.rt.engine.Instantiate(ctx, i.module, i.region)
	if err != nil {
		return err
	}
	fn := m.ExportedFunction(i.module.Entry())
	if fn == nil {
		_ = m.Close(ctx)
		return errors.NotFound(errors.PhaseInstantiate, "entry point", i.module.Entry())
	}
	i.mod, i.entry = m, fn
	return nil
}

// ID returns the instance id.
func (i *Instance) ID() uuid.UUID { return i.id }

// Module returns the module the instance runs.
func (i *Instance) Module() *engine.Module { return i.module }

// Region returns the region holding the instance's linear memory.
func (i *Instance) Region() *region.Region { return i.region }

// State returns the current lifecycle state.
func (i *Instance) State() State { return State(i.state.Load()) }

// Runs returns how many times Run has entered the guest.
func (i *Instance) Runs() uint64 { return i.runs.Load() }

// Pending returns the host call the instance is waiting on, or nil.
func (i *Instance) Pending() *hostcall.Call {
	if i.State() != StateYielded {
		return nil
	}
	return i.pending
}

// CallMemory returns the guest memory view for the pending host call. The
// view is revoked when the instance resumes. Nil unless Yielded.
func (i *Instance) CallMemory() wasmsandbox.Memory {
	if i.State() != StateYielded || i.mem == nil {
		return nil
	}
	return i.mem
}

func (i *Instance) claim(phase errors.Phase, op string) error {
	if !i.busy.CompareAndSwap(false, true) {
		return errors.New(phase, errors.KindInvalidState).
			Path(i.id.String()).
			Detail("cannot %s: instance is in use by another caller", op).
			Build()
	}
	return nil
}

func (i *Instance) stateError(phase errors.Phase, op string, st State) error {
	if st == StateClosed {
		return errors.Closed(phase, "instance")
	}
	return errors.InvalidState(phase, op, st.String())
}

// Run enters the guest at the module's entry point. The instance must be
// Idle. ctx bounds the whole run, including segments after Resume.
func (i *Instance) Run(ctx context.Context, args ...uint64) (Outcome, error) {
	if err := i.claim(errors.PhaseRun, "run"); err != nil {
		return Outcome{}, err
	}
	defer i.busy.Store(false)

	if st := i.State(); st != StateIdle {
		return Outcome{}, i.stateError(errors.PhaseRun, "run", st)
	}
	if want := len(i.module.EntrySignature().Params); len(args) != want {
		return Outcome{}, errors.New(errors.PhaseRun, errors.KindInvalidInput).
			Detail("entry point expects %d arguments, got %d", want, len(args)).
			Build()
	}
	if err := i.region.Enter(); err != nil {
		return Outcome{}, err
	}
	i.state.Store(uint32(StateRunning))
	i.runs.Add(1)

	var ev guestEvent
	if i.sw == nil {
		results, err := i.entry.Call(ctx, args...)
		ev = guestEvent{results: results, err: err}
	} else {
		ev = i.sw.enter(ctx, i.entry, args)
	}
	return i.settle(ev), nil
}

// Resume continues the guest after its pending host call, which returns
// results. Valid only in the Yielded state; otherwise the error matches
// errors.ErrInvalidResume. If ctx is already done the pending call traps
// with code cancelled instead.
func (i *Instance) Resume(ctx context.Context, results ...uint64) (Outcome, error) {
	return i.resume(ctx, results, nil)
}

// ResumeTrap continues the guest by failing its pending host call. The run
// ends Trapped; cause decides the trap code.
func (i *Instance) ResumeTrap(ctx context.Context, cause error) (Outcome, error) {
	if cause == nil {
		cause = errors.New(errors.PhaseHost, errors.KindHostCall).Detail("host call trapped").Build()
	}
	return i.resume(ctx, nil, cause)
}

func (i *Instance) resume(ctx context.Context, results []uint64, cause error) (Outcome, error) {
	if err := i.claim(errors.PhaseResume, "resume"); err != nil {
		return Outcome{}, err
	}
	defer i.busy.Store(false)

	st := i.State()
	if st == StateClosed {
		return Outcome{}, errors.Closed(errors.PhaseResume, "instance")
	}
	if st != StateYielded {
		return Outcome{}, errors.InvalidResume(st.String())
	}

	call := i.pending
	if cause == nil {
		if err := ctx.Err(); err != nil {
			cause = err
		} else if f, ok := i.rt.engine.HostFunc(call.Name); ok && len(results) != len(f.Signature.Results) {
			return Outcome{}, errors.New(errors.PhaseResume, errors.KindInvalidInput).
				Path(call.Name).
				Detail("host function returns %d values, got %d", len(f.Signature.Results), len(results)).
				Build()
		}
	}
	if cause != nil && !errors.IsKind(cause, errors.KindHostCall) {
		cause = errors.HostCall(call.Name, cause)
	}

	if err := i.region.Enter(); err != nil {
		return Outcome{}, err
	}
	i.mem.revoke()
	i.state.Store(uint32(StateRunning))
	return i.settle(i.sw.resume(results, cause)), nil
}

// settle records what the guest stopped on and turns it into an Outcome.
func (i *Instance) settle(ev guestEvent) Outcome {
	i.region.Exit()

	if ev.call != nil {
		i.pending = ev.call
		i.mem = newCallMemory(ev.mem)
		i.state.Store(uint32(StateYielded))
		return Yielded(*ev.call)
	}

	i.pending = nil
	if ev.err != nil {
		trap := engine.Classify(ev.err)
		i.state.Store(uint32(StateTrapped))
		i.logger.Debug("instance trapped",
			zap.String("code", string(trap.Code)),
			zap.String("message", trap.Message))
		return Trapped(trap)
	}
	i.state.Store(uint32(StateReturned))
	return Returned(append([]uint64(nil), ev.results...)...)
}

// Reset restores the instance to Idle with the module's initial image and
// fresh globals. A run suspended on a host call is abandoned. After Reset
// the instance produces the same outcomes as a newly created one.
func (i *Instance) Reset(ctx context.Context) error {
	if err := i.claim(errors.PhaseReset, "reset"); err != nil {
		return err
	}
	defer i.busy.Store(false)

	st := i.State()
	if st == StateClosed {
		return errors.Closed(errors.PhaseReset, "instance")
	}
	if st == StateYielded {
		i.abandon()
	}
	if err := i.teardown(ctx); err != nil {
		i.logger.Debug("close module before reset", zap.Error(err))
	}

	if err := i.instantiate(ctx); err != nil {
		i.state.Store(uint32(StateFailed))
		i.logger.Warn("reset failed", zap.Error(err))
		return err
	}
	i.state.Store(uint32(StateIdle))
	return nil
}

// Close tears the instance down. A region acquired by NewInstance goes
// back to the pool. Closing twice is a no-op.
func (i *Instance) Close(ctx context.Context) error {
	if err := i.claim(errors.PhaseReset, "close"); err != nil {
		return err
	}
	defer i.busy.Store(false)

	st := i.State()
	if st == StateClosed {
		return nil
	}
	if st == StateYielded {
		i.abandon()
	}
	err := i.teardown(ctx)
	i.state.Store(uint32(StateClosed))
	if rerr := i.module.Release(ctx); err == nil {
		err = rerr
	}

	if i.owned {
		if rerr := i.rt.alloc.Release(i.region); err == nil {
			err = rerr
		}
	}
	i.logger.Debug("instance closed", zap.Uint64("runs", i.runs.Load()))
	return err
}

func (i *Instance) abandon() {
	i.mem.revoke()
	i.sw.abort()
	i.pending = nil
}

func (i *Instance) teardown(ctx context.Context) error {
	if i.mod == nil {
		return nil
	}
	err := i.mod.Close(ctx)
	i.mod, i.entry = nil, nil
	return err
}
