// Package wasm decodes and encodes WebAssembly 1.0 binary modules.
//
// The sandbox never executes code through this package; it uses it to
// inspect modules before compilation and to build fixture modules.
//
// # Supported Features
//
//	- Core value types (i32, i64, f32, f64)
//	- Functions, tables, a single linear memory, globals
//	- Bulk memory instructions and the data count section
//	- Passive data segments
//
// Element segments are carried as raw bytes. SIMD, GC, threads,
// exceptions, multi-memory and memory64 are rejected with ErrUnsupported.
//
// # Parsing
//
//	module, err := wasm.ParseModuleValidate(data)
//
// # Memory layout
//
// MemoryLayout reports the page limits of the module's memory, and
// InitialImage resolves active data segments into the content linear
// memory has before the entry function runs:
//
//	img, err := module.InitialImage()
//	buf := make([]byte, img.Size)
//	_ = img.Materialize(buf)
//
// # Encoding
//
// Modules round-trip through Encode. Instruction sequences are built with
// EncodeInstructions:
//
//	body := wasm.EncodeInstructions([]wasm.Instruction{
//	    {Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
//	    {Opcode: wasm.OpEnd},
//	})
package wasm
