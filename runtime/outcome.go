package runtime

import (
	"fmt"

	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/hostcall"
)

// Trap is a guest fault reported as a value.
type Trap = engine.Trap

// TrapCode names the reason for a trap.
type TrapCode = engine.TrapCode

// OutcomeKind discriminates Outcome.
type OutcomeKind uint8

const (
	OutcomeReturned OutcomeKind = iota + 1
	OutcomeTrapped
	OutcomeYielded
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeReturned:
		return "returned"
	case OutcomeTrapped:
		return "trapped"
	case OutcomeYielded:
		return "yielded"
	default:
		return "invalid"
	}
}

// Outcome is the result of running or resuming an instance: the guest
// returned, trapped, or stopped to ask the host for a service.
type Outcome struct {
	Trap   *Trap
	Call   *hostcall.Call
	Values []uint64
	Kind   OutcomeKind
}

// Returned builds a Returned outcome.
func Returned(values ...uint64) Outcome {
	return Outcome{Kind: OutcomeReturned, Values: values}
}

// Trapped builds a Trapped outcome.
func Trapped(trap *Trap) Outcome {
	return Outcome{Kind: OutcomeTrapped, Trap: trap}
}

// TrappedWith builds a Trapped outcome from a code and cause.
func TrappedWith(code TrapCode, cause error) Outcome {
	t := &Trap{Code: code, Cause: cause}
	if cause != nil {
		t.Message = cause.Error()
	}
	return Trapped(t)
}

// Yielded builds a YieldedToHost outcome.
func Yielded(call hostcall.Call) Outcome {
	return Outcome{Kind: OutcomeYielded, Call: &call}
}

// Terminal reports whether the run is over.
func (o Outcome) Terminal() bool {
	return o.Kind == OutcomeReturned || o.Kind == OutcomeTrapped
}

// Value returns the first returned value, or zero.
func (o Outcome) Value() uint64 {
	if len(o.Values) == 0 {
		return 0
	}
	return o.Values[0]
}

// TrapCode returns the trap code of a Trapped outcome, or "".
func (o Outcome) TrapCode() TrapCode {
	if o.Trap == nil {
		return ""
	}
	return o.Trap.Code
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeReturned:
		return fmt.Sprintf("returned%v", o.Values)
	case OutcomeTrapped:
		return o.Trap.Error()
	case OutcomeYielded:
		return "yielded " + o.Call.String()
	default:
		return "invalid outcome"
	}
}
