package bench

import (
	"context"

	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/internal/modgen"
	"github.com/wippyai/wasm-sandbox/runtime"
	"github.com/wippyai/wasm-sandbox/scheduler"
)

const (
	fibInput       = 20
	hostcallInput  = 9
	hostcallLoops  = 100
	denseMemPages  = 16
	sparseMemPages = 64
)

func unexpected(out runtime.Outcome) error {
	return errors.New(errors.PhaseSchedule, errors.KindInvalidData).
		Detail("unexpected outcome %s", out).
		Build()
}

func expectReturned(out runtime.Outcome, want ...uint64) error {
	if out.Kind != runtime.OutcomeReturned || len(out.Values) != len(want) {
		return unexpected(out)
	}
	for i, v := range want {
		if out.Values[i] != v {
			return unexpected(out)
		}
	}
	return nil
}

func noClose(context.Context) error { return nil }

// single prepares one instance of bin that every iteration resets and
// drives.
func single(bin []byte, drive func(ctx context.Context, env *Env, inst *runtime.Instance) error) func(context.Context, *Env) (*Fixture, error) {
	return func(ctx context.Context, env *Env) (*Fixture, error) {
		mod, err := env.Runtime.Load(ctx, bin, engine.LoadOptions{})
		if err != nil {
			return nil, err
		}
		inst, err := env.Runtime.NewInstance(ctx, mod)
		if err != nil {
			return nil, err
		}
		return &Fixture{
			Op: func(ctx context.Context) error {
				if err := inst.Reset(ctx); err != nil {
					return err
				}
				return drive(ctx, env, inst)
			},
			Close: inst.Close,
		}, nil
	}
}

func contextWorkloads() []Workload {
	return []Workload{
		{
			Group: GroupContext,
			Name:  "create_run_destroy",
			Prepare: func(ctx context.Context, env *Env) (*Fixture, error) {
				mod, err := env.Runtime.Load(ctx, modgen.Null(), engine.LoadOptions{Name: "null"})
				if err != nil {
					return nil, err
				}
				return &Fixture{
					Op: func(ctx context.Context) error {
						inst, err := env.Runtime.NewInstance(ctx, mod)
						if err != nil {
							return err
						}
						out, err := inst.Run(ctx)
						if err == nil {
							err = expectReturned(out)
						}
						if cerr := inst.Close(ctx); err == nil {
							err = cerr
						}
						return err
					},
					Close: noClose,
				}, nil
			},
		},
		{
			Group: GroupContext,
			Name:  "reset_run",
			Prepare: single(modgen.Null(), func(ctx context.Context, _ *Env, inst *runtime.Instance) error {
				out, err := inst.Run(ctx)
				if err != nil {
					return err
				}
				return expectReturned(out)
			}),
		},
		{
			Group: GroupContext,
			Name:  "hostcall_roundtrip",
			Prepare: single(modgen.HostcallEcho(), func(ctx context.Context, env *Env, inst *runtime.Instance) error {
				return expectReturned(env.Scheduler.Drive(ctx, inst, hostcallInput), hostcallInput)
			}),
		},
		{
			Group: GroupContext,
			Name:  "hostcall_loop",
			Prepare: single(modgen.HostcallLoop(), func(ctx context.Context, env *Env, inst *runtime.Instance) error {
				return expectReturned(env.Scheduler.Drive(ctx, inst, hostcallLoops), hostcallLoops)
			}),
		},
	}
}

type fixtureModule struct {
	name string
	bin  func() []byte
}

var moduleSet = []fixtureModule{
	{"null", modgen.Null},
	{"data_image", modgen.DataImage},
	{"large_dense", func() []byte { return modgen.LargeDense(denseMemPages) }},
	{"large_sparse", func() []byte { return modgen.LargeSparse(sparseMemPages) }},
	{"hostcall_echo", modgen.HostcallEcho},
}

func moduleWorkloads() []Workload {
	var out []Workload
	for _, fm := range moduleSet {
		bin := fm.bin()
		out = append(out,
			Workload{
				Group: GroupModules,
				Name:  "load_" + fm.name,
				Prepare: func(ctx context.Context, env *Env) (*Fixture, error) {
					// A private engine keeps Unload from evicting modules
					// other workloads share.
					eng, err := engine.New(ctx, &engine.Config{
						MemoryLimitPages: env.Runtime.Engine().MemoryLimitPages(),
					}, env.Runtime.Table())
					if err != nil {
						return nil, err
					}
					return &Fixture{
						Op: func(ctx context.Context) error {
							mod, err := eng.Load(ctx, bin, engine.LoadOptions{})
							if err != nil {
								return err
							}
							return eng.Unload(ctx, mod)
						},
						Close: eng.Close,
					}, nil
				},
			},
			Workload{
				Group: GroupModules,
				Name:  "instantiate_" + fm.name,
				Prepare: func(ctx context.Context, env *Env) (*Fixture, error) {
					mod, err := env.Runtime.Load(ctx, bin, engine.LoadOptions{})
					if err != nil {
						return nil, err
					}
					return &Fixture{
						Op: func(ctx context.Context) error {
							inst, err := env.Runtime.NewInstance(ctx, mod)
							if err != nil {
								return err
							}
							return inst.Close(ctx)
						},
						Close: noClose,
					}, nil
				},
			},
		)
	}
	return out
}

type batchSpec struct {
	name string
	bin  func() []byte
	args []uint64
	want []uint64
}

func manyArgs() (args []uint64, sum uint64) {
	args = make([]uint64, modgen.ManyArgsCount)
	for i := range args {
		args[i] = uint64(i + 1)
		sum += args[i]
	}
	return args, sum
}

func batchSpecs() []batchSpec {
	args, sum := manyArgs()
	return []batchSpec{
		{name: "null", bin: modgen.Null},
		{name: "fib", bin: modgen.Fib, args: []uint64{fibInput}, want: []uint64{modgen.FibOf(fibInput)}},
		{name: "many_args", bin: modgen.ManyArgs, args: args, want: []uint64{sum}},
		{name: "hostcall", bin: modgen.HostcallEcho, args: []uint64{hostcallInput}, want: []uint64{hostcallInput}},
	}
}

// batchWorkloads builds run_* workloads that drive env.Instances instances
// through the scheduler, one at a time for seq and on env.Concurrency
// workers for par.
func batchWorkloads(group Group) []Workload {
	var out []Workload
	for _, spec := range batchSpecs() {
		out = append(out, Workload{
			Group: group,
			Name:  "run_" + spec.name,
			Prepare: func(ctx context.Context, env *Env) (*Fixture, error) {
				mod, err := env.Runtime.Load(ctx, spec.bin(), engine.LoadOptions{Name: spec.name})
				if err != nil {
					return nil, err
				}
				insts := make([]*runtime.Instance, 0, env.Instances)
				closeAll := func(ctx context.Context) error {
					var first error
					for _, inst := range insts {
						if err := inst.Close(ctx); err != nil && first == nil {
							first = err
						}
					}
					return first
				}
				for i := 0; i < env.Instances; i++ {
					inst, err := env.Runtime.NewInstance(ctx, mod)
					if err != nil {
						_ = closeAll(ctx)
						return nil, err
					}
					insts = append(insts, inst)
				}

				batch := scheduler.Batch{Tasks: scheduler.Tasks(insts, spec.args...), Concurrency: 1}
				if group == GroupPar {
					batch.Concurrency = max(env.Concurrency, 2)
				}
				return &Fixture{
					Op: func(ctx context.Context) error {
						for _, inst := range insts {
							if err := inst.Reset(ctx); err != nil {
								return err
							}
						}
						for _, out := range env.Scheduler.Run(ctx, batch) {
							if err := expectReturned(out, spec.want...); err != nil {
								return err
							}
						}
						return nil
					},
					Close: closeAll,
				}, nil
			},
		})
	}
	return out
}
