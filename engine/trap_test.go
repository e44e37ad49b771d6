package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/wasm-sandbox/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want TrapCode
	}{
		{"out of bounds", fmt.Errorf("wasm error: out of bounds memory access\nwasm stack trace:\n\t.run()"), TrapOutOfBounds},
		{"table access", fmt.Errorf("wasm error: invalid table access"), TrapOutOfBounds},
		{"unreachable", fmt.Errorf("wasm error: unreachable\nwasm stack trace:"), TrapUnreachable},
		{"stack overflow", fmt.Errorf("wasm error: stack overflow"), TrapStackOverflow},
		{"stack overflow unprefixed", stderrors.New("stack overflow"), TrapStackOverflow},
		{"integer overflow", fmt.Errorf("wasm error: integer overflow"), TrapIntegerOverflow},
		{"conversion", fmt.Errorf("wasm error: invalid conversion to integer"), TrapInvalidConversion},
		{"indirect", fmt.Errorf("wasm error: indirect call type mismatch"), TrapIndirectCall},
		{"deadline", sys.NewExitError(sys.ExitCodeDeadlineExceeded), TrapCancelled},
		{"exit", sys.NewExitError(3), TrapExit},
		{"context", fmt.Errorf("%w (recovered by wazero)", context.Canceled), TrapCancelled},
		{"host call", fmt.Errorf("%w (recovered by wazero)", errors.HostCall("fail", stderrors.New("boom"))), TrapHostCall},
		{"host call cancelled", errors.HostCall("echo", context.DeadlineExceeded), TrapCancelled},
		{"invalid state", errors.InvalidState(errors.PhaseHost, "call", "idle"), TrapInvalidState},
		{"unknown", stderrors.New("something else"), TrapUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trap := Classify(tt.err)
			if trap.Code != tt.want {
				t.Errorf("Code = %s, want %s", trap.Code, tt.want)
			}
			if !stderrors.Is(trap, tt.err) {
				t.Error("trap should wrap the original error")
			}
		})
	}
}

func TestClassifyKeepsExistingTrap(t *testing.T) {
	orig := &Trap{Code: TrapHostCall, Message: "custom"}
	if got := Classify(fmt.Errorf("wrapped: %w", orig)); got != orig {
		t.Errorf("got %v, want the original trap", got)
	}
	if Classify(nil) != nil {
		t.Error("nil error should classify to nil")
	}
}

func TestTrapMessageIsFirstLine(t *testing.T) {
	trap := Classify(fmt.Errorf("wasm error: unreachable\nwasm stack trace:\n\t.run()"))
	if trap.Message != "unreachable" {
		t.Errorf("Message = %q", trap.Message)
	}
	if trap.Error() != "trap: unreachable: unreachable" {
		t.Errorf("Error() = %q", trap.Error())
	}
}
