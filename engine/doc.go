// Package engine wraps wazero to compile sandbox modules and instantiate
// them onto isolated memory regions.
//
// # Architecture
//
// The engine package provides three main types:
//
//	Engine - owns a wazero runtime and the sandbox host module
//	Module - a compiled, validated module plus its memory layout
//	Trap   - a guest fault classified into a TrapCode
//
// # Loading
//
// Load decodes the binary with the wasm package, checks that every import
// is a sandbox host function with a matching signature, resolves the
// initial memory image from the active data segments and compiles the
// module. Modules are cached by the blake3 digest of their bytes.
//
// # Memory
//
// Instantiate passes wazero an experimental.MemoryAllocator that backs the
// instance's linear memory with a region.Region. wazero's own bounds
// checks stop guest accesses at the committed prefix; the region's guard
// pages stop everything else.
//
// # Host calls
//
// Every function of the bound hostcall.Table is exported from a host
// module named "sandbox". When guest code calls one, the host function
// looks up the Switch installed in the call context (see WithSwitch) and
// blocks on it until the runtime has serviced the call.
//
// # Traps
//
// Classify maps wazero errors to TrapCode values:
//
//	wasm error: out of bounds memory access  -> out_of_bounds
//	wasm error: unreachable                  -> unreachable
//	wasm error: stack overflow               -> stack_overflow
//	wasm error: integer divide by zero       -> divide_by_zero
//	sys.ExitError (context done)             -> cancelled
//	host handler error                       -> host_call
package engine
