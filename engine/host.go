package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/hostcall"
)

// Switch receives the host calls guest code makes. HostCall runs on the
// guest's goroutine and blocks until the call has been serviced; the
// results are handed back to the guest, and an error traps it.
//
// Each instance run installs its own Switch in the call context, so host
// functions shared by every instance of an engine never touch global state.
type Switch interface {
	HostCall(ctx context.Context, call hostcall.Call, mem api.Memory) ([]uint64, error)
}

type switchKey struct{}

// WithSwitch returns a context whose guest calls deliver host calls to s.
func WithSwitch(ctx context.Context, s Switch) context.Context {
	return context.WithValue(ctx, switchKey{}, s)
}

func switchFrom(ctx context.Context) Switch {
	s, _ := ctx.Value(switchKey{}).(Switch)
	return s
}

// hostFunction adapts one table entry into a wazero host function. The
// stack holds the arguments on entry and receives the results on return.
func hostFunction(f *hostcall.Func) api.GoModuleFunc {
	nparams := len(f.Signature.Params)
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		s := switchFrom(ctx)
		if s == nil {
			panic(errors.New(errors.PhaseHost, errors.KindInvalidState).
				Path(f.Name).
				Detail("host call outside an instance run").
				Build())
		}
		args := make([]uint64, nparams)
		copy(args, stack[:nparams])
		results, err := s.HostCall(ctx, hostcall.Call{Name: f.Name, Index: f.Index, Args: args}, mod.Memory())
		if err != nil {
			panic(err)
		}
		copy(stack, results)
	}
}
