// Package modgen builds the fixed set of guest modules that workloads and
// tests run. Every fixture exports its entry point as "run" and, when it
// has one, its memory as "memory".
//
// Fixtures are assembled in Go through the wasm encoder rather than
// compiled from WAT text; the module has no text-format compiler.
package modgen

import (
	"github.com/wippyai/wasm-sandbox/hostcall"
	"github.com/wippyai/wasm-sandbox/wasm"
)

// Entry is the entry point export of every fixture.
const Entry = "run"

// ManyArgsCount is the parameter count of ManyArgs.
const ManyArgsCount = 16

// DataImage layout.
const (
	DataImageGreetingAddr = 0x100
	DataImagePatternAddr  = 0x1000
)

// DataImageGreeting is the first segment of DataImage.
var DataImageGreeting = []byte("sandbox")

var i64 = wasm.ValI64
var i32 = wasm.ValI32

// Null returns a module whose entry point returns immediately.
func Null() []byte {
	b := newBuilder().memory(1, 1)
	return b.export(Entry, b.fn(nil, nil, nil)).bytes()
}

// Add returns a module with run(a, b i64) -> a+b.
func Add() []byte {
	b := newBuilder().memory(1, 1)
	f := b.fn(vals(i64, i64), vals(i64), nil,
		localGet(0), localGet(1), op(wasm.OpI64Add))
	return b.export(Entry, f).bytes()
}

// Fib returns a module with run(n i64) -> fib(n), computed iteratively.
func Fib() []byte {
	const n, a, b2, t = 0, 1, 2, 3
	b := newBuilder().memory(1, 1)
	f := b.fn(vals(i64), vals(i64), []wasm.LocalEntry{{Count: 3, ValType: i64}},
		i64c(0), localSet(a),
		i64c(1), localSet(b2),
		block(),
		loop(),
		localGet(n), op(wasm.OpI64Eqz), brIf(1),
		localGet(a), localGet(b2), op(wasm.OpI64Add), localSet(t),
		localGet(b2), localSet(a),
		localGet(t), localSet(b2),
		localGet(n), i64c(1), op(wasm.OpI64Sub), localSet(n),
		br(0),
		end(),
		end(),
		localGet(a),
	)
	return b.export(Entry, f).bytes()
}

// FibOf computes the value Fib returns for n.
func FibOf(n uint64) uint64 {
	var a, b uint64 = 0, 1
	for ; n > 0; n-- {
		a, b = b, a+b
	}
	return a
}

// ManyArgs returns a module with run(x0..x15 i64) -> sum.
func ManyArgs() []byte {
	params := make([]wasm.ValType, ManyArgsCount)
	for i := range params {
		params[i] = i64
	}
	body := []wasm.Instruction{localGet(0)}
	for i := uint32(1); i < ManyArgsCount; i++ {
		body = append(body, localGet(i), op(wasm.OpI64Add))
	}
	b := newBuilder().memory(1, 1)
	return b.export(Entry, b.fn(params, vals(i64), nil, body...)).bytes()
}

// Recurse returns a module whose entry point calls itself without bound.
func Recurse() []byte {
	b := newBuilder()
	// The defined function will be index 0.
	f := b.fn(nil, nil, nil, call(0))
	return b.export(Entry, f).bytes()
}

// Unreachable returns a module whose entry point executes unreachable.
func Unreachable() []byte {
	b := newBuilder().memory(1, 1)
	return b.export(Entry, b.fn(nil, nil, nil, op(wasm.OpUnreachable))).bytes()
}

// DivideByZero returns a module with run(a, b i32) -> a / b (signed).
func DivideByZero() []byte {
	b := newBuilder().memory(1, 1)
	f := b.fn(vals(i32, i32), vals(i32), nil,
		localGet(0), localGet(1), op(wasm.OpI32DivS))
	return b.export(Entry, f).bytes()
}

// OutOfBounds returns a module with a single page of memory whose entry
// point loads the i32 at addr. Addresses past 65532 trap.
func OutOfBounds(addr uint32) []byte {
	b := newBuilder().memory(1, 1)
	f := b.fn(nil, vals(i32), nil,
		i32c(int32(addr)), mem(wasm.OpI32Load, 2))
	return b.export(Entry, f).bytes()
}

// Load returns a module with run(addr i32) -> i32 reading memory at addr,
// for probing arbitrary offsets with one compiled module.
func Load(pages uint32) []byte {
	b := newBuilder().memory(pages, pages)
	f := b.fn(vals(i32), vals(i32), nil,
		localGet(0), mem(wasm.OpI32Load8U, 0))
	return b.export(Entry, f).bytes()
}

// Grow returns a module with one initial page and up to maxPages whose
// entry point runs memory.grow(delta) and returns its result.
func Grow(maxPages uint32) []byte {
	b := newBuilder().memory(1, maxPages)
	f := b.fn(vals(i32), vals(i32), nil,
		localGet(0), op(wasm.OpMemoryGrow))
	return b.export(Entry, f).bytes()
}

// DataImage returns a module with two data segments and a mutable global.
// run() increments the byte at DataImageGreetingAddr and the global, then
// returns their sum. From a fresh image it returns DataImageFirstResult.
func DataImage() []byte {
	pattern := make([]byte, 256)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	b := newBuilder().memory(1, 1)
	g := b.global(true, 0)
	f := b.fn(nil, vals(i32), nil,
		globalGet(g), i32c(1), op(wasm.OpI32Add), globalSet(g),
		i32c(DataImageGreetingAddr),
		i32c(DataImageGreetingAddr), mem(wasm.OpI32Load8U, 0),
		i32c(1), op(wasm.OpI32Add),
		mem(wasm.OpI32Store8, 0),
		globalGet(g),
		i32c(DataImageGreetingAddr), mem(wasm.OpI32Load8U, 0),
		op(wasm.OpI32Add),
	)
	return b.export(Entry, f).
		data(DataImageGreetingAddr, DataImageGreeting).
		data(DataImagePatternAddr, pattern).
		bytes()
}

// DataImageFirstResult is what DataImage returns on its first run.
var DataImageFirstResult = uint64(DataImageGreeting[0]) + 2

// LargeDense returns a module whose memory of pages pages is entirely
// covered by data segments.
func LargeDense(pages uint32) []byte {
	b := newBuilder().memory(pages, pages)
	f := b.fn(nil, nil, nil)
	b.export(Entry, f)
	for p := uint32(0); p < pages; p++ {
		seg := make([]byte, wasm.PageSize)
		for i := range seg {
			seg[i] = byte(p + uint32(i))
		}
		b.data(p*wasm.PageSize, seg)
	}
	return b.bytes()
}

// LargeSparse returns a module with pages pages of memory and one small
// segment at the start of each page.
func LargeSparse(pages uint32) []byte {
	b := newBuilder().memory(pages, pages)
	f := b.fn(nil, nil, nil)
	b.export(Entry, f)
	for p := uint32(0); p < pages; p++ {
		b.data(p*wasm.PageSize, []byte{byte(p), 0xde, 0xad, 0xbe, 0xef, 0, 0, byte(p)})
	}
	return b.bytes()
}

// HostcallEcho returns a module with run(x i64) -> echo(x), where echo is
// the sandbox host function.
func HostcallEcho() []byte {
	b := newBuilder()
	echo := b.importHost(hostcall.FuncEcho, vals(i64), vals(i64))
	b.memory(1, 1)
	f := b.fn(vals(i64), vals(i64), nil, localGet(0), call(echo))
	return b.export(Entry, f).bytes()
}

// HostcallLoop returns a module with run(n i64) -> n that reaches n by
// calling the sandbox add function n times.
func HostcallLoop() []byte {
	const n, acc = 0, 1
	b := newBuilder()
	add := b.importHost(hostcall.FuncAdd, vals(i64, i64), vals(i64))
	b.memory(1, 1)
	f := b.fn(vals(i64), vals(i64), []wasm.LocalEntry{{Count: 1, ValType: i64}},
		block(),
		loop(),
		localGet(n), op(wasm.OpI64Eqz), brIf(1),
		localGet(acc), i64c(1), call(add), localSet(acc),
		localGet(n), i64c(1), op(wasm.OpI64Sub), localSet(n),
		br(0),
		end(),
		end(),
		localGet(acc),
	)
	return b.export(Entry, f).bytes()
}

// HostcallFail returns a module whose entry point calls the sandbox fail
// function with code HostcallFailCode.
func HostcallFail() []byte {
	b := newBuilder()
	fail := b.importHost(hostcall.FuncFail, vals(i32), nil)
	b.memory(1, 1)
	f := b.fn(nil, nil, nil, i32c(HostcallFailCode), call(fail))
	return b.export(Entry, f).bytes()
}

// HostcallFailCode is the code HostcallFail passes to the host.
const HostcallFailCode = 7

// HostcallMemory addresses and values.
const (
	HostcallMemoryGuestAddr  = 64
	HostcallMemoryGuestValue = 0xABCD
	HostcallMemoryHostAddr   = 128
	HostcallMemoryHostValue  = 99
)

// HostcallMemory returns a module that exchanges data with the host
// through linear memory: the guest stores a value the host reads with
// peek, and the host stores a value with poke that the guest reads back.
// run() returns the sum of both.
func HostcallMemory() []byte {
	b := newBuilder()
	peek := b.importHost(hostcall.FuncPeek, vals(i32), vals(i32))
	poke := b.importHost(hostcall.FuncPoke, vals(i32, i32), nil)
	b.memory(1, 1)
	f := b.fn(nil, vals(i32), nil,
		i32c(HostcallMemoryGuestAddr), i32c(HostcallMemoryGuestValue), mem(wasm.OpI32Store, 2),
		i32c(HostcallMemoryHostAddr), i32c(HostcallMemoryHostValue), call(poke),
		i32c(HostcallMemoryGuestAddr), call(peek),
		i32c(HostcallMemoryHostAddr), mem(wasm.OpI32Load, 2),
		op(wasm.OpI32Add),
	)
	return b.export(Entry, f).bytes()
}

// MissingImport returns a module importing a sandbox function that no
// table provides.
func MissingImport() []byte {
	b := newBuilder()
	missing := b.importHost("does_not_exist", nil, nil)
	f := b.fn(nil, nil, nil, call(missing))
	return b.export(Entry, f).bytes()
}
