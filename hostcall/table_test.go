package hostcall

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/tetratelabs/wazero/api"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/errors"
)

func echoHandler(_ context.Context, _ wasmsandbox.Memory, args []uint64) ([]uint64, error) {
	return []uint64{args[0]}, nil
}

func TestRegister(t *testing.T) {
	tbl := NewTable()

	idx, err := tbl.Register("echo", []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}, echoHandler)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if idx != 0 {
		t.Errorf("index = %d, want 0", idx)
	}

	idx, err = tbl.RegisterWIT("twice", "func(x: u32) -> u32", echoHandler)
	if err != nil {
		t.Fatalf("RegisterWIT: %v", err)
	}
	if idx != 1 {
		t.Errorf("index = %d, want 1", idx)
	}

	f, ok := tbl.Lookup("twice")
	if !ok || f.Index != 1 {
		t.Fatalf("Lookup(twice) = %+v, %v", f, ok)
	}
	if len(f.Signature.Params) != 1 || f.Signature.Params[0] != api.ValueTypeI32 {
		t.Errorf("params = %v", f.Signature.Params)
	}
	if got, _ := tbl.At(0); got.Name != "echo" {
		t.Errorf("At(0) = %s", got.Name)
	}
	if _, ok := tbl.At(5); ok {
		t.Error("At(5) should not exist")
	}
	if tbl.Len() != 2 || len(tbl.Funcs()) != 2 {
		t.Errorf("Len = %d", tbl.Len())
	}
}

func TestRegisterErrors(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Register("", nil, nil, echoHandler); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("empty name: %v", err)
	}
	if _, err := tbl.Register("x", nil, nil, nil); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("nil handler: %v", err)
	}
	if _, err := tbl.Register("x", nil, nil, echoHandler); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Register("x", nil, nil, echoHandler); !errors.IsKind(err, errors.KindRegistration) {
		t.Errorf("duplicate: %v", err)
	}
	if _, err := tbl.RegisterWIT("s", "func(v: string)", echoHandler); !errors.IsKind(err, errors.KindUnsupported) {
		t.Errorf("string param: %v", err)
	}
}

func TestDispatch(t *testing.T) {
	tbl := NewTable()
	if err := RegisterBuiltins(tbl); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	echo, _ := tbl.Lookup(FuncEcho)
	fail, _ := tbl.Lookup(FuncFail)
	peek, _ := tbl.Lookup(FuncPeek)
	poke, _ := tbl.Lookup(FuncPoke)
	sum, _ := tbl.Lookup(FuncSum)

	mem := make(wasmsandbox.ByteMemory, 64)
	ctx := context.Background()

	t.Run("echo", func(t *testing.T) {
		res, err := tbl.Dispatch(ctx, mem, Call{Name: FuncEcho, Index: echo.Index, Args: []uint64{99}})
		if err != nil || len(res) != 1 || res[0] != 99 {
			t.Errorf("echo = %v, %v", res, err)
		}
	})

	t.Run("sum", func(t *testing.T) {
		res, err := tbl.Dispatch(ctx, mem, Call{Index: sum.Index, Args: []uint64{1, 2, 3, 4, 5, 6, 7, 8}})
		if err != nil || res[0] != 36 {
			t.Errorf("sum = %v, %v", res, err)
		}
	})

	t.Run("poke then peek", func(t *testing.T) {
		if _, err := tbl.Dispatch(ctx, mem, Call{Index: poke.Index, Args: []uint64{8, 1234}}); err != nil {
			t.Fatalf("poke: %v", err)
		}
		res, err := tbl.Dispatch(ctx, mem, Call{Index: peek.Index, Args: []uint64{8}})
		if err != nil || res[0] != 1234 {
			t.Errorf("peek = %v, %v", res, err)
		}
	})

	t.Run("peek out of range", func(t *testing.T) {
		_, err := tbl.Dispatch(ctx, mem, Call{Index: peek.Index, Args: []uint64{1 << 20}})
		if !errors.IsKind(err, errors.KindHostCall) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("handler failure", func(t *testing.T) {
		_, err := tbl.Dispatch(ctx, mem, Call{Index: fail.Index, Args: []uint64{7}})
		var he *HandlerError
		if !stderrors.As(err, &he) || he.Code != 7 {
			t.Errorf("got %v, want HandlerError{7}", err)
		}
		if !errors.IsKind(err, errors.KindHostCall) {
			t.Errorf("failure should be host_call kind: %v", err)
		}
	})

	t.Run("arity mismatch", func(t *testing.T) {
		_, err := tbl.Dispatch(ctx, mem, Call{Index: echo.Index})
		if !errors.IsKind(err, errors.KindHostCall) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("unknown index", func(t *testing.T) {
		_, err := tbl.Dispatch(ctx, mem, Call{Index: 100})
		if !errors.IsKind(err, errors.KindNotFound) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("name mismatch", func(t *testing.T) {
		_, err := tbl.Dispatch(ctx, mem, Call{Name: "add", Index: echo.Index, Args: []uint64{1}})
		if err == nil {
			t.Error("expected error for mismatched name")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := tbl.Dispatch(cctx, mem, Call{Index: echo.Index, Args: []uint64{1}})
		if !stderrors.Is(err, context.Canceled) {
			t.Errorf("got %v", err)
		}
	})
}

func TestDispatchResultArity(t *testing.T) {
	tbl := NewTable()
	idx, _ := tbl.Register("bad", nil, []api.ValueType{api.ValueTypeI32},
		func(context.Context, wasmsandbox.Memory, []uint64) ([]uint64, error) { return nil, nil })
	if _, err := tbl.Dispatch(context.Background(), nil, Call{Index: idx}); err == nil {
		t.Error("expected result arity error")
	}
}

func TestEnsureLinked(t *testing.T) {
	first, err := EnsureLinked()
	if err != nil {
		t.Fatalf("EnsureLinked: %v", err)
	}
	second := MustLink()
	if first != second || first != Default() {
		t.Error("EnsureLinked must return the process-wide table")
	}
	if first.Len() != 7 {
		t.Errorf("builtins = %d, want 7", first.Len())
	}
	for _, name := range []string{FuncNoop, FuncEcho, FuncAdd, FuncSum, FuncFail, FuncPeek, FuncPoke} {
		if _, ok := first.Lookup(name); !ok {
			t.Errorf("builtin %s missing", name)
		}
	}
}
