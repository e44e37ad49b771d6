package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/hostcall"
	"github.com/wippyai/wasm-sandbox/internal/modgen"
	"github.com/wippyai/wasm-sandbox/metrics"
	"github.com/wippyai/wasm-sandbox/runtime"
)

type env struct {
	rt      *runtime.Runtime
	sched   *Scheduler
	metrics *metrics.Metrics
}

func newEnv(t *testing.T, table *hostcall.Table) *env {
	t.Helper()
	if table == nil {
		table = hostcall.NewTable()
		require.NoError(t, hostcall.RegisterBuiltins(table))
	}
	ctx := context.Background()
	rt, err := runtime.New(ctx, runtime.Options{
		Table:        table,
		EngineConfig: &engine.Config{MemoryLimitPages: 16},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	m := metrics.New(nil)
	s, err := New(Options{Table: table, Metrics: m})
	require.NoError(t, err)
	return &env{rt: rt, sched: s, metrics: m}
}

func (e *env) instances(t *testing.T, bin []byte, n int) []*runtime.Instance {
	t.Helper()
	ctx := context.Background()
	mod, err := e.rt.Load(ctx, bin, engine.LoadOptions{})
	require.NoError(t, err)

	insts := make([]*runtime.Instance, n)
	for i := range insts {
		inst, err := e.rt.NewInstance(ctx, mod)
		require.NoError(t, err)
		insts[i] = inst
	}
	t.Cleanup(func() {
		for _, inst := range insts {
			_ = inst.Close(context.Background())
		}
	})
	return insts
}

func addTasks(insts []*runtime.Instance) []Task {
	tasks := make([]Task, len(insts))
	for i, inst := range insts {
		tasks[i] = Task{Instance: inst, Args: []uint64{uint64(i), uint64(i)}}
	}
	return tasks
}

func TestSequentialPreservesOrder(t *testing.T) {
	e := newEnv(t, nil)
	insts := e.instances(t, modgen.Add(), 1000)

	results := e.sched.RunSequential(context.Background(), addTasks(insts))
	require.Len(t, results, len(insts))
	for i, out := range results {
		require.Equal(t, runtime.OutcomeReturned, out.Kind, "task %d: %s", i, out)
		assert.Equal(t, uint64(2*i), out.Value(), "task %d", i)
	}
	assert.Equal(t, uint64(1000), e.metrics.Snapshot().Runs)
}

func TestParallelMatchesSequential(t *testing.T) {
	e := newEnv(t, nil)
	insts := e.instances(t, modgen.Add(), 1000)

	results := e.sched.RunParallel(context.Background(), addTasks(insts), 8)
	require.Len(t, results, len(insts))
	for i, out := range results {
		require.Equal(t, runtime.OutcomeReturned, out.Kind, "task %d: %s", i, out)
		assert.Equal(t, uint64(2*i), out.Value(), "task %d", i)
	}
	for i, inst := range insts {
		assert.False(t, inst.Region().Entered(), "region %d still entered", i)
		assert.Equal(t, uint64(1), inst.Region().Entries(), "region %d", i)
	}
}

func TestParallelOrderUnderDelays(t *testing.T) {
	table := hostcall.NewTable()
	_, err := table.RegisterWIT(hostcall.FuncEcho, "func(x: u64) -> u64",
		func(_ context.Context, _ wasmsandbox.Memory, args []uint64) ([]uint64, error) {
			// Early tasks finish last.
			time.Sleep(time.Duration(64-args[0]) * 50 * time.Microsecond)
			return []uint64{args[0]}, nil
		})
	require.NoError(t, err)

	e := newEnv(t, table)
	insts := e.instances(t, modgen.HostcallEcho(), 64)
	tasks := make([]Task, len(insts))
	for i, inst := range insts {
		tasks[i] = Task{Instance: inst, Args: []uint64{uint64(i)}}
	}

	results := e.sched.RunParallel(context.Background(), tasks, 16)
	for i, out := range results {
		require.Equal(t, runtime.OutcomeReturned, out.Kind, "task %d: %s", i, out)
		assert.Equal(t, uint64(i), out.Value())
	}
	assert.Equal(t, uint64(64), e.metrics.Snapshot().HostCalls)
}

func TestTrapDoesNotAbortBatch(t *testing.T) {
	e := newEnv(t, nil)
	good := e.instances(t, modgen.Null(), 3)
	bad := e.instances(t, modgen.Unreachable(), 2)
	insts := []*runtime.Instance{good[0], bad[0], good[1], bad[1], good[2]}

	for _, concurrency := range []int{1, 4} {
		for _, inst := range insts {
			require.NoError(t, inst.Reset(context.Background()))
		}
		results := e.sched.Run(context.Background(), Batch{Tasks: Tasks(insts), Concurrency: concurrency})
		require.Len(t, results, 5)

		kinds := make([]runtime.OutcomeKind, len(results))
		for i, out := range results {
			kinds[i] = out.Kind
		}
		assert.Equal(t, []runtime.OutcomeKind{
			runtime.OutcomeReturned, runtime.OutcomeTrapped, runtime.OutcomeReturned,
			runtime.OutcomeTrapped, runtime.OutcomeReturned,
		}, kinds, "concurrency %d", concurrency)

		sum := Summarize(results)
		assert.Equal(t, 3, sum.Returned)
		assert.Equal(t, 2, sum.Traps[engine.TrapUnreachable])
	}
}

func TestHostCallFailureBecomesTrap(t *testing.T) {
	e := newEnv(t, nil)
	inst := e.instances(t, modgen.HostcallFail(), 1)[0]

	out := e.sched.Drive(context.Background(), inst)
	assert.Equal(t, runtime.OutcomeTrapped, out.Kind)
	assert.Equal(t, engine.TrapHostCall, out.TrapCode())
	assert.Equal(t, uint64(1), e.metrics.Snapshot().HostFailures)
}

func TestDriveServicesEveryHostCall(t *testing.T) {
	e := newEnv(t, nil)
	inst := e.instances(t, modgen.HostcallLoop(), 1)[0]

	out := e.sched.Drive(context.Background(), inst, 25)
	require.Equal(t, runtime.OutcomeReturned, out.Kind, out.String())
	assert.Equal(t, uint64(25), out.Value())
	assert.Equal(t, uint64(25), e.metrics.Snapshot().HostCalls)
}

func TestDriveHostMemory(t *testing.T) {
	e := newEnv(t, nil)
	inst := e.instances(t, modgen.HostcallMemory(), 1)[0]

	out := e.sched.Drive(context.Background(), inst)
	require.Equal(t, runtime.OutcomeReturned, out.Kind, out.String())
	assert.Equal(t, uint64(modgen.HostcallMemoryGuestValue+modgen.HostcallMemoryHostValue), out.Value())
}

func TestCancelledContextTrapsAtHostCall(t *testing.T) {
	e := newEnv(t, nil)
	inst := e.instances(t, modgen.HostcallEcho(), 1)[0]

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := e.sched.Drive(ctx, inst, 3)
	assert.Equal(t, runtime.OutcomeTrapped, out.Kind)
	assert.Equal(t, engine.TrapCancelled, out.TrapCode())
}

func TestInstanceListedTwiceRunsOnce(t *testing.T) {
	e := newEnv(t, nil)
	inst := e.instances(t, modgen.HostcallEcho(), 1)[0]
	tasks := []Task{{Instance: inst, Args: []uint64{1}}, {Instance: inst, Args: []uint64{2}}}

	results := e.sched.RunParallel(context.Background(), tasks, 2)
	sum := Summarize(results)
	assert.Equal(t, 1, sum.Returned)
	assert.Equal(t, 1, sum.Traps[engine.TrapInvalidState])
}

func TestContractViolationsAreOutcomes(t *testing.T) {
	e := newEnv(t, nil)
	inst := e.instances(t, modgen.Null(), 1)[0]
	require.NoError(t, inst.Close(context.Background()))

	results := e.sched.RunSequential(context.Background(), []Task{{Instance: inst}, {}})
	for _, out := range results {
		assert.Equal(t, engine.TrapInvalidState, out.TrapCode())
	}
}
