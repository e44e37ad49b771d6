package hostcall

import (
	"context"
	"fmt"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
)

// builtinWIT declares the built-in host functions guest fixtures import
// from the sandbox namespace.
const builtinWIT = `
interface sandbox {
	noop: func();
	echo: func(value: u64) -> u64;
	add: func(a: u64, b: u64) -> u64;
	sum: func(a: u64, b: u64, c: u64, d: u64, e: u64, f: u64, g: u64, h: u64) -> u64;
	fail: func(code: u32);
	peek: func(addr: u32) -> u32;
	poke: func(addr: u32, value: u32);
}
`

// Names of the built-in host functions.
const (
	FuncNoop = "noop"
	FuncEcho = "echo"
	FuncAdd  = "add"
	FuncSum  = "sum"
	FuncFail = "fail"
	FuncPeek = "peek"
	FuncPoke = "poke"
)

// HandlerError is returned by the fail built-in.
type HandlerError struct {
	Code uint32
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("host call failed with code %d", e.Code)
}

var builtinHandlers = map[string]Handler{
	FuncNoop: func(context.Context, wasmsandbox.Memory, []uint64) ([]uint64, error) {
		return nil, nil
	},
	FuncEcho: func(_ context.Context, _ wasmsandbox.Memory, args []uint64) ([]uint64, error) {
		return []uint64{args[0]}, nil
	},
	FuncAdd: func(_ context.Context, _ wasmsandbox.Memory, args []uint64) ([]uint64, error) {
		return []uint64{args[0] + args[1]}, nil
	},
	FuncSum: func(_ context.Context, _ wasmsandbox.Memory, args []uint64) ([]uint64, error) {
		var total uint64
		for _, a := range args {
			total += a
		}
		return []uint64{total}, nil
	},
	FuncFail: func(_ context.Context, _ wasmsandbox.Memory, args []uint64) ([]uint64, error) {
		return nil, &HandlerError{Code: uint32(args[0])}
	},
	FuncPeek: func(_ context.Context, mem wasmsandbox.Memory, args []uint64) ([]uint64, error) {
		v, err := mem.ReadU32(uint32(args[0]))
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(v)}, nil
	},
	FuncPoke: func(_ context.Context, mem wasmsandbox.Memory, args []uint64) ([]uint64, error) {
		return nil, mem.WriteU32(uint32(args[0]), uint32(args[1]))
	},
}

// RegisterBuiltins adds the built-in host functions to t in declaration order.
func RegisterBuiltins(t *Table) error {
	sigs, err := ParseSignatures(builtinWIT)
	if err != nil {
		return err
	}
	for _, name := range []string{FuncNoop, FuncEcho, FuncAdd, FuncSum, FuncFail, FuncPeek, FuncPoke} {
		sig := sigs[name]
		if _, err := t.Register(name, sig.Params, sig.Results, builtinHandlers[name]); err != nil {
			return err
		}
	}
	return nil
}
