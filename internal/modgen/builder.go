package modgen

import (
	"github.com/wippyai/wasm-sandbox/hostcall"
	"github.com/wippyai/wasm-sandbox/wasm"
)

// builder assembles a module one piece at a time. Imports must be added
// before any function is defined so that function indices stay stable.
type builder struct {
	m       *wasm.Module
	defined int
}

func newBuilder() *builder {
	return &builder{m: &wasm.Module{}}
}

func (b *builder) memory(minPages, maxPages uint32) *builder {
	b.m.Memories = append(b.m.Memories, wasm.MemoryType{Limits: wasm.Limits{
		Min:    uint64(minPages),
		Max:    uint64(maxPages),
		HasMax: true,
	}})
	b.m.Exports = append(b.m.Exports, wasm.Export{Name: "memory", Kind: wasm.KindMemory})
	return b
}

// importHost imports a sandbox host function and returns its function index.
func (b *builder) importHost(name string, params, results []wasm.ValType) uint32 {
	if b.defined > 0 {
		panic("modgen: import after function definition")
	}
	idx := uint32(b.m.NumImportedFuncs())
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: hostcall.Namespace,
		Name:   name,
		Desc: wasm.ImportDesc{
			Kind:    wasm.KindFunc,
			TypeIdx: b.m.AddType(wasm.FuncType{Params: params, Results: results}),
		},
	})
	return idx
}

// global defines an i32 global and returns its index.
func (b *builder) global(mutable bool, init int32) uint32 {
	b.m.Globals = append(b.m.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: mutable},
		Init: wasm.EncodeInstructions([]wasm.Instruction{i32c(init), end()}),
	})
	return uint32(len(b.m.Globals) - 1)
}

// fn defines a function. The trailing end is appended.
func (b *builder) fn(params, results []wasm.ValType, locals []wasm.LocalEntry, body ...wasm.Instruction) uint32 {
	idx := uint32(b.m.NumImportedFuncs() + len(b.m.Funcs))
	b.m.Funcs = append(b.m.Funcs, b.m.AddType(wasm.FuncType{Params: params, Results: results}))
	b.m.Code = append(b.m.Code, wasm.FuncBody{
		Locals: locals,
		Code:   wasm.EncodeInstructions(append(body, end())),
	})
	b.defined++
	return idx
}

func (b *builder) export(name string, funcIdx uint32) *builder {
	b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Index: funcIdx})
	return b
}

func (b *builder) data(offset uint32, init []byte) *builder {
	b.m.Data = append(b.m.Data, wasm.DataSegment{
		Offset: wasm.EncodeInstructions([]wasm.Instruction{i32c(int32(offset)), end()}),
		Init:   init,
	})
	return b
}

func (b *builder) bytes() []byte {
	return b.m.Encode()
}

func vals(vts ...wasm.ValType) []wasm.ValType { return vts }

func op(code byte) wasm.Instruction { return wasm.Instruction{Opcode: code} }
func end() wasm.Instruction         { return op(wasm.OpEnd) }

func i32c(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func i64c(v int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}}
}

func localGet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: i}}
}

func localSet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: i}}
}

func globalGet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: i}}
}

func globalSet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: i}}
}

func call(f uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: f}}
}

func br(label uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: label}}
}

func brIf(label uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: label}}
}

func block() wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}}
}

func loop() wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}}
}

func mem(code byte, align uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: code, Imm: wasm.MemoryImm{Align: align}}
}
