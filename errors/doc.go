// Package errors provides structured error types for the sandbox runtime.
//
// Errors are categorized by Phase (where in the instance lifecycle the error
// occurred) and Kind (error category). The Error type carries a component
// path, the offending value and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRegion, errors.KindOutOfMemory).
//		Path("pool", "class-65536").
//		Value(size).
//		Detail("pool exhausted").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfMemory(size, cause)
//	err := errors.InvalidResume("running")
//
// Guest traps are not errors: they are reported as outcome values by the
// runtime package. Errors are reserved for contract violations (resuming an
// instance that is not waiting on a host call), resource exhaustion, and
// loading failures.
//
// All errors implement the standard error interface and support errors.Is/As.
// A sentinel such as ErrOutOfMemory matches any error with the same phase and
// kind; a target with an empty Phase matches on Kind alone.
package errors
