package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/wasm-sandbox/errors"
)

// TrapCode names the reason a guest run stopped abnormally.
type TrapCode string

const (
	TrapOutOfBounds       TrapCode = "out_of_bounds"
	TrapUnreachable       TrapCode = "unreachable"
	TrapStackOverflow     TrapCode = "stack_overflow"
	TrapDivideByZero      TrapCode = "divide_by_zero"
	TrapIntegerOverflow   TrapCode = "integer_overflow"
	TrapInvalidConversion TrapCode = "invalid_conversion"
	TrapIndirectCall      TrapCode = "indirect_call"
	TrapExit              TrapCode = "exit"
	TrapHostCall          TrapCode = "host_call"
	TrapCancelled         TrapCode = "cancelled"
	TrapInvalidState      TrapCode = "invalid_state"
	TrapUnknown           TrapCode = "unknown"
)

// Trap is a guest fault converted into a value.
type Trap struct {
	Cause   error
	Code    TrapCode
	Message string
}

func (t *Trap) Error() string {
	if t.Message == "" {
		return "trap: " + string(t.Code)
	}
	return fmt.Sprintf("trap: %s: %s", t.Code, t.Message)
}

func (t *Trap) Unwrap() error {
	return t.Cause
}

// wazero reports most runtime traps as "wasm error: <message>"; stack
// overflow from the compiler engine arrives without the prefix.
var wasmTraps = []struct {
	msg  string
	code TrapCode
}{
	{"out of bounds memory access", TrapOutOfBounds},
	{"invalid table access", TrapOutOfBounds},
	{"unreachable", TrapUnreachable},
	{"stack overflow", TrapStackOverflow},
	{"integer divide by zero", TrapDivideByZero},
	{"integer overflow", TrapIntegerOverflow},
	{"invalid conversion to integer", TrapInvalidConversion},
	{"indirect call type mismatch", TrapIndirectCall},
}

// Classify converts an error returned by a guest call into a Trap.
func Classify(err error) *Trap {
	if err == nil {
		return nil
	}
	var trap *Trap
	if stderrors.As(err, &trap) {
		return trap
	}

	msg := firstLine(err.Error())

	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		switch exit.ExitCode() {
		case sys.ExitCodeContextCanceled, sys.ExitCodeDeadlineExceeded:
			return &Trap{Code: TrapCancelled, Message: msg, Cause: err}
		default:
			return &Trap{Code: TrapExit, Message: msg, Cause: err}
		}
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return &Trap{Code: TrapCancelled, Message: msg, Cause: err}
	}

	var se *errors.Error
	if stderrors.As(err, &se) {
		switch se.Kind {
		case errors.KindHostCall:
			return &Trap{Code: TrapHostCall, Message: msg, Cause: err}
		case errors.KindInvalidState, errors.KindInvalidResume:
			return &Trap{Code: TrapInvalidState, Message: msg, Cause: err}
		}
	}

	rest := strings.TrimPrefix(msg, "wasm error: ")
	for _, t := range wasmTraps {
		if strings.HasPrefix(rest, t.msg) {
			return &Trap{Code: t.code, Message: rest, Cause: err}
		}
	}
	return &Trap{Code: TrapUnknown, Message: msg, Cause: err}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
