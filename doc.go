// Package wasmsandbox runs untrusted WebAssembly modules in isolated
// instances and measures the cost of switching between host and guest.
//
// # Architecture Overview
//
//	wasmsandbox/         Root package with the Memory view interface
//	├── region/          Guarded linear-memory regions and their pool
//	├── engine/          Module loading and compilation on wazero
//	├── runtime/         Instances: create, run, resume, reset
//	├── scheduler/       Sequential and parallel batch execution
//	├── hostcall/        Host-call dispatch table and built-in handlers
//	├── bench/           Named workloads (context, modules, par, seq)
//	├── config/          YAML and environment configuration
//	├── metrics/         Prometheus collectors
//	├── wasm/            WebAssembly binary decoding and encoding
//	├── errors/          Structured error types
//	└── cmd/sandbox-bench  CLI driving the workloads
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, runtime.Options{})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.Load(ctx, wasmBytes, engine.LoadOptions{Entry: "run"})
//	inst, err := rt.NewInstance(ctx, mod)
//	defer inst.Close(ctx)
//
//	sched, err := scheduler.New(scheduler.Options{})
//	outcome := sched.Drive(ctx, inst)
//
// Both constructors bind the process-wide host-call table through
// hostcall.EnsureLinked unless a table is passed in.
//
// # Outcomes
//
// Running an instance yields one of three outcomes: Returned with the
// entry's results, Trapped with a classified reason, or YieldedToHost with
// a pending host call. Traps are values, never panics or host errors.
// Errors are reserved for contract violations such as resuming an
// instance that is not waiting on a host call.
package wasmsandbox
