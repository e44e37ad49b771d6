// Package scheduler drives instances to completion, servicing their host
// calls through a dispatch table, one at a time or on a bounded pool of
// workers. Outcomes always come back in input order.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/hostcall"
	"github.com/wippyai/wasm-sandbox/metrics"
	"github.com/wippyai/wasm-sandbox/runtime"
)

const (
	ModeSequential = "seq"
	ModeParallel   = "par"
)

// Options configures a Scheduler.
type Options struct {
	Table   *hostcall.Table // defaults to the linked process table
	Metrics *metrics.Metrics
	Logger  *zap.Logger     // defaults to engine.Logger()
}

// Task is one unit of work: an instance and the arguments for its entry
// point.
type Task struct {
	Instance *runtime.Instance
	Args     []uint64
}

// Tasks pairs every instance with the same arguments.
func Tasks(insts []*runtime.Instance, args ...uint64) []Task {
	tasks := make([]Task, len(insts))
	for i, inst := range insts {
		tasks[i] = Task{Instance: inst, Args: args}
	}
	return tasks
}

// Batch is a list of tasks and the number of workers to run them on.
// Concurrency of 0 or 1 runs sequentially.
type Batch struct {
	Tasks       []Task
	Concurrency int
}

type Scheduler struct {
	table   *hostcall.Table
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(opts Options) (*Scheduler, error) {
	table := opts.Table
	if table == nil {
		t, err := hostcall.EnsureLinked()
		if err != nil {
			return nil, errors.Wrap(errors.PhaseHost, errors.KindRegistration, err, "link host functions")
		}
		table = t
	}
	logger := opts.Logger
	if logger == nil {
		logger = engine.Logger()
	}
	return &Scheduler{
		table:   table,
		metrics: opts.Metrics,
		logger:  logger.Named("scheduler"),
	}, nil
}

// Drive runs inst until it returns or traps, dispatching every host call
// it yields. ctx is checked at each host-call boundary; once it is done
// the pending call traps with code cancelled.
//
// Contract violations (an instance that is not Idle, closed, or in use
// elsewhere) come back as Trapped outcomes with code invalid_state.
func (s *Scheduler) Drive(ctx context.Context, inst *runtime.Instance, args ...uint64) runtime.Outcome {
	return s.drive(ctx, ModeSequential, inst, args)
}

func (s *Scheduler) drive(ctx context.Context, mode string, inst *runtime.Instance, args []uint64) runtime.Outcome {
	start := time.Now()
	out := s.complete(ctx, inst, args)
	s.metrics.ObserveOutcome(mode, out, time.Since(start))
	return out
}

func (s *Scheduler) complete(ctx context.Context, inst *runtime.Instance, args []uint64) runtime.Outcome {
	if inst == nil {
		return runtime.TrappedWith(engine.TrapInvalidState,
			errors.InvalidInput(errors.PhaseRun, "nil instance"))
	}

	out, err := inst.Run(ctx, args...)
	for err == nil && out.Kind == runtime.OutcomeYielded {
		out, err = s.service(ctx, inst, *out.Call)
	}
	if err != nil {
		s.logger.Debug("instance rejected", zap.Stringer("instance", inst.ID()), zap.Error(err))
		return runtime.TrappedWith(engine.TrapInvalidState, err)
	}
	return out
}

func (s *Scheduler) service(ctx context.Context, inst *runtime.Instance, call hostcall.Call) (runtime.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return inst.ResumeTrap(ctx, err)
	}
	results, err := s.table.Dispatch(ctx, inst.CallMemory(), call)
	s.metrics.ObserveHostCall(call.Name, err)
	if err != nil {
		return inst.ResumeTrap(ctx, err)
	}
	return inst.Resume(ctx, results...)
}

// RunSequential drives each task to completion, strictly one at a time.
func (s *Scheduler) RunSequential(ctx context.Context, tasks []Task) []runtime.Outcome {
	s.metrics.ObserveBatch(ModeSequential)
	results := make([]runtime.Outcome, len(tasks))
	for i, t := range tasks {
		results[i] = s.drive(ctx, ModeSequential, t.Instance, t.Args)
	}
	s.logBatch(ModeSequential, results)
	return results
}

// RunParallel drives the tasks on up to n workers. Tasks are handed out in
// input order as workers free up. results[i] is the outcome of tasks[i].
//
// An instance listed twice is never run by two workers at once; the second
// claim fails and that entry reports invalid_state.
func (s *Scheduler) RunParallel(ctx context.Context, tasks []Task, n int) []runtime.Outcome {
	if n < 1 {
		n = 1
	}
	s.metrics.ObserveBatch(ModeParallel)
	results := make([]runtime.Outcome, len(tasks))

	var g errgroup.Group
	g.SetLimit(n)
	for i := range tasks {
		g.Go(func() error {
			results[i] = s.drive(ctx, ModeParallel, tasks[i].Instance, tasks[i].Args)
			return nil
		})
	}
	_ = g.Wait()

	s.logBatch(ModeParallel, results)
	return results
}

// Run executes a batch sequentially or in parallel by its concurrency.
func (s *Scheduler) Run(ctx context.Context, b Batch) []runtime.Outcome {
	if b.Concurrency <= 1 {
		return s.RunSequential(ctx, b.Tasks)
	}
	return s.RunParallel(ctx, b.Tasks, b.Concurrency)
}

func (s *Scheduler) logBatch(mode string, results []runtime.Outcome) {
	if ce := s.logger.Check(zap.DebugLevel, "batch done"); ce != nil {
		sum := Summarize(results)
		ce.Write(
			zap.String("mode", mode),
			zap.Int("tasks", len(results)),
			zap.Int("returned", sum.Returned),
			zap.Int("trapped", sum.Trapped))
	}
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Traps    map[runtime.TrapCode]int
	Returned int
	Trapped  int
}

// Summarize counts outcomes by kind and trap code.
func Summarize(results []runtime.Outcome) Summary {
	sum := Summary{Traps: make(map[runtime.TrapCode]int)}
	for _, out := range results {
		switch out.Kind {
		case runtime.OutcomeReturned:
			sum.Returned++
		case runtime.OutcomeTrapped:
			sum.Trapped++
			sum.Traps[out.TrapCode()]++
		}
	}
	return sum
}
