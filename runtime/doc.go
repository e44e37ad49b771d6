// Package runtime runs guest modules inside regions.
//
// A Runtime owns an engine, a region allocator and the host-call table.
// Instances are created from a loaded module and a region:
//
//	rt, _ := runtime.New(ctx, runtime.Options{})
//	mod, _ := rt.Load(ctx, bin, engine.LoadOptions{})
//	inst, _ := rt.NewInstance(ctx, mod)
//	defer inst.Close(ctx)
//
//	out, _ := inst.Run(ctx, 1, 2)
//	for out.Kind == runtime.OutcomeYielded {
//		res, err := rt.Table().Dispatch(ctx, inst.CallMemory(), *out.Call)
//		if err != nil {
//			out, _ = inst.ResumeTrap(ctx, err)
//			break
//		}
//		out, _ = inst.Resume(ctx, res...)
//	}
//
// A run ends in one of three outcomes. Returned carries the entry point's
// results. Trapped carries a classified Trap; traps are values, never Go
// errors or panics. Yielded means the guest is suspended inside a host
// call and waits for Resume or ResumeTrap.
//
// Errors returned next to an Outcome are contract violations: running an
// instance that is not Idle, resuming one that is not Yielded, or using a
// closed instance.
//
// Reset returns an instance to the state Create left it in, so repeated
// runs after Reset are deterministic.
package runtime
