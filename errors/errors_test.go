package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseHost,
				Kind:   KindHostCall,
				Path:   []string{"instance", "echo"},
				Detail: "handler failed",
			},
			contains: []string{"[host]", "host_call", "instance.echo", "handler failed"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseRegion,
				Kind:  KindOutOfMemory,
			},
			contains: []string{"[region]", "out_of_memory"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseInstantiate,
				Kind:   KindInstantiation,
				Detail: "bind region",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[instantiate]", "instantiation", "bind region", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseLoad,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not reach cause")
	}
}

func TestError_Is(t *testing.T) {
	err := OutOfMemory(4096, nil)

	if !errors.Is(err, ErrOutOfMemory) {
		t.Error("Is should match sentinel with same phase and kind")
	}
	if errors.Is(err, ErrNotOwned) {
		t.Error("Is should not match different kind")
	}
	if errors.Is(err, &Error{Phase: PhaseRun, Kind: KindOutOfMemory}) {
		t.Error("Is should not match different phase")
	}
	if !errors.Is(err, &Error{Kind: KindOutOfMemory}) {
		t.Error("kind-only target should match")
	}

	wrapped := fmt.Errorf("batch setup: %w", err)
	if !errors.Is(wrapped, ErrOutOfMemory) {
		t.Error("errors.Is should see through fmt wrapping")
	}
}

func TestIsKind(t *testing.T) {
	inner := InvalidResume("running")
	outer := Wrap(PhaseSchedule, KindInvalidState, inner, "drive")

	if !IsKind(outer, KindInvalidResume) {
		t.Error("IsKind should find nested kind")
	}
	if !IsKind(fmt.Errorf("x: %w", outer), KindInvalidState) {
		t.Error("IsKind should see through fmt wrapping")
	}
	if IsKind(errors.New("plain"), KindInvalidState) {
		t.Error("IsKind matched a plain error")
	}
	if IsKind(nil, KindInvalidState) {
		t.Error("IsKind matched nil")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseRegion, KindOutOfMemory).
		Path("pool", "class").
		Value(42).
		Cause(cause).
		Detail("exhausted after %d regions", 8).
		Build()

	if err.Phase != PhaseRegion {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseRegion)
	}
	if err.Kind != KindOutOfMemory {
		t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfMemory)
	}
	if len(err.Path) != 2 || err.Path[0] != "pool" {
		t.Errorf("Path = %v, want [pool class]", err.Path)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "exhausted after 8 regions" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("InvalidResume", func(t *testing.T) {
		err := InvalidResume("idle")
		if !errors.Is(err, ErrInvalidResume) {
			t.Errorf("InvalidResume should match sentinel, got %v", err)
		}
		if !strings.Contains(err.Detail, "idle") {
			t.Errorf("Detail = %q, should name the state", err.Detail)
		}
	})

	t.Run("InvalidState", func(t *testing.T) {
		err := InvalidState(PhaseRun, "run", "running")
		if err.Kind != KindInvalidState || err.Phase != PhaseRun {
			t.Errorf("got %v", err)
		}
	})

	t.Run("NotOwned", func(t *testing.T) {
		err := NotOwned(3)
		if !errors.Is(err, ErrNotOwned) {
			t.Errorf("NotOwned should match sentinel")
		}
	})

	t.Run("HostCall", func(t *testing.T) {
		cause := errors.New("boom")
		err := HostCall("echo", cause)
		if err.Kind != KindHostCall || !errors.Is(err, cause) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		err := Closed(PhaseRegion, "allocator")
		if err.Kind != KindClosed {
			t.Errorf("Kind = %v", err.Kind)
		}
	})
}

func TestMissingImportsError(t *testing.T) {
	t.Run("single import", func(t *testing.T) {
		err := NewMissingImportsError([]string{"sandbox#echo"})
		if len(err.Imports) != 1 {
			t.Fatalf("expected 1 import, got %d", len(err.Imports))
		}
		if err.Imports[0].Namespace != "sandbox" || err.Imports[0].Function != "echo" {
			t.Errorf("import = %+v", err.Imports[0])
		}
	})

	t.Run("grouped by namespace", func(t *testing.T) {
		err := NewMissingImportsError([]string{
			"sandbox#echo",
			"env#abort",
			"sandbox#sum",
		})
		msg := err.Error()
		for _, want := range []string{"missing 3", "sandbox:", "env:", "echo", "abort", "sum"} {
			if !strings.Contains(msg, want) {
				t.Errorf("message %q missing %q", msg, want)
			}
		}
	})

	t.Run("empty imports", func(t *testing.T) {
		msg := NewMissingImportsError(nil).Error()
		if !strings.Contains(msg, "no imports specified") {
			t.Errorf("got %s", msg)
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := NewMissingImportsError([]string{"ns#fn"})
		if !errors.Is(err, &MissingImportsError{}) {
			t.Error("errors.Is should match MissingImportsError")
		}
	})
}

func TestKindOnlySentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		want     bool
	}{
		{"invalid state in run", InvalidState(PhaseRun, "run", "returned"), ErrInvalidState, true},
		{"invalid state in region", New(PhaseRegion, KindInvalidState).Build(), ErrInvalidState, true},
		{"closed instance", Closed(PhaseRun, "instance"), ErrClosed, true},
		{"closed engine", Closed(PhaseLoad, "engine"), ErrClosed, true},
		{"wrapped closed", fmt.Errorf("driving: %w", Closed(PhaseResume, "instance")), ErrClosed, true},
		{"resume is not state", InvalidResume("idle"), ErrInvalidState, false},
		{"closed is not state", Closed(PhaseRun, "instance"), ErrInvalidState, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.sentinel); got != tt.want {
				t.Errorf("errors.Is = %v, want %v", got, tt.want)
			}
		})
	}
}
