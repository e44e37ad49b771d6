// Package bench defines the named sandbox workloads. Each workload builds
// instances from a fixed module set and drives them through the scheduler;
// timing is left to the caller (testing.B or the sandbox-bench command).
package bench

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/config"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/hostcall"
	"github.com/wippyai/wasm-sandbox/metrics"
	"github.com/wippyai/wasm-sandbox/runtime"
	"github.com/wippyai/wasm-sandbox/scheduler"
)

// Group names a family of workloads.
type Group string

const (
	GroupContext Group = "context" // host/guest switch cost
	GroupModules Group = "modules" // load and instantiate cost
	GroupSeq     Group = "seq"     // sequential batch throughput
	GroupPar     Group = "par"     // parallel batch throughput
)

// Groups lists every group in reporting order.
var Groups = []Group{GroupContext, GroupModules, GroupSeq, GroupPar}

// Op is one timed iteration of a workload. It returns an error when the
// sandbox produced an unexpected outcome.
type Op func(ctx context.Context) error

// Fixture is a prepared workload: the operation to repeat and the cleanup
// to run after the last iteration.
type Fixture struct {
	Op    Op
	Close func(ctx context.Context) error
}

// Workload is a named benchmark.
type Workload struct {
	Group   Group
	Name    string
	Prepare func(ctx context.Context, env *Env) (*Fixture, error)
}

// ID returns "group/name".
func (w Workload) ID() string {
	return string(w.Group) + "/" + w.Name
}

// Env is what workloads run against.
type Env struct {
	Runtime     *runtime.Runtime
	Scheduler   *scheduler.Scheduler
	Metrics     *metrics.Metrics
	Instances   int // batch size for seq and par
	Concurrency int // workers for par
}

// NewEnv builds a runtime and scheduler from cfg. m may be nil.
func NewEnv(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*Env, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	table, err := EnsureLinked()
	if err != nil {
		return nil, err
	}
	rt, err := runtime.New(ctx, runtime.Options{
		EngineConfig: cfg.EngineConfig(logger),
		RegionConfig: cfg.RegionConfig(logger, m),
		Table:        table,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(scheduler.Options{Table: table, Metrics: m, Logger: logger})
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return &Env{
		Runtime:     rt,
		Scheduler:   sched,
		Metrics:     m,
		Instances:   cfg.Bench.Instances,
		Concurrency: cfg.Scheduler.Concurrency,
	}, nil
}

func (e *Env) Close(ctx context.Context) error {
	return e.Runtime.Close(ctx)
}

// EnsureLinked binds the host functions the workload modules import into
// the process-wide table and checks none is missing. Call it before any
// workload runs; it is idempotent.
func EnsureLinked() (*hostcall.Table, error) {
	table, err := hostcall.EnsureLinked()
	if err != nil {
		return nil, err
	}
	for _, name := range []string{
		hostcall.FuncNoop, hostcall.FuncEcho, hostcall.FuncAdd, hostcall.FuncSum,
		hostcall.FuncFail, hostcall.FuncPeek, hostcall.FuncPoke,
	} {
		if _, ok := table.Lookup(name); !ok {
			return nil, errors.NotFound(errors.PhaseHost, "host function", name)
		}
	}
	return table, nil
}

// Registry returns every workload ordered by group, then name.
func Registry() []Workload {
	var all []Workload
	all = append(all, contextWorkloads()...)
	all = append(all, moduleWorkloads()...)
	all = append(all, batchWorkloads(GroupSeq)...)
	all = append(all, batchWorkloads(GroupPar)...)

	rank := make(map[Group]int, len(Groups))
	for i, g := range Groups {
		rank[g] = i
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Group != all[j].Group {
			return rank[all[i].Group] < rank[all[j].Group]
		}
		return all[i].Name < all[j].Name
	})
	return all
}

// Select returns the workloads in groups whose id contains filter. An
// empty groups list selects every group.
func Select(groups []string, filter string) []Workload {
	want := make(map[Group]bool, len(groups))
	for _, g := range groups {
		want[Group(strings.TrimSpace(g))] = true
	}
	var out []Workload
	for _, w := range Registry() {
		if len(want) > 0 && !want[w.Group] {
			continue
		}
		if filter != "" && !strings.Contains(w.ID(), filter) {
			continue
		}
		out = append(out, w)
	}
	return out
}
