package wasm_test

import (
	"reflect"
	"testing"

	"github.com/wippyai/wasm-sandbox/wasm"
)

func TestInstructionRoundTrip(t *testing.T) {
	instrs := []wasm.Instruction{
		{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
		{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeI32}},
		{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 300}},
		{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: 1}},
		{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: []uint32{0, 1}, Default: 2}},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 7}},
		{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: 1}},
		{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{Align: 2, Offset: 65536}},
		{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: -1 << 40}},
		{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Value: 1.5}},
		{Opcode: wasm.OpMemoryGrow},
		{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryFill}},
		{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscDataDrop, Operands: []uint32{3}}},
		{Opcode: wasm.OpI32Add},
		{Opcode: wasm.OpEnd},
		{Opcode: wasm.OpEnd},
		{Opcode: wasm.OpEnd},
	}

	decoded, err := wasm.DecodeInstructions(wasm.EncodeInstructions(instrs))
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	if !reflect.DeepEqual(decoded, instrs) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, instrs)
	}
}

func TestInstructionHelpers(t *testing.T) {
	call := wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 3}}
	if idx, ok := call.GetCallTarget(); !ok || idx != 3 {
		t.Errorf("GetCallTarget = %d, %v", idx, ok)
	}

	tests := []struct {
		instr wasm.Instruction
		want  bool
	}{
		{wasm.Instruction{Opcode: wasm.OpI64Store32, Imm: wasm.MemoryImm{}}, true},
		{wasm.Instruction{Opcode: wasm.OpMemorySize}, true},
		{wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryCopy}}, true},
		{wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: 0}}, false},
		{wasm.Instruction{Opcode: wasm.OpI32Add}, false},
	}
	for _, tt := range tests {
		if got := tt.instr.IsMemoryAccess(); got != tt.want {
			t.Errorf("IsMemoryAccess(0x%02x) = %v, want %v", tt.instr.Opcode, got, tt.want)
		}
	}
}

func TestDecodeUnsupportedOpcode(t *testing.T) {
	// 0xFD is the SIMD prefix
	if _, err := wasm.DecodeInstructions([]byte{0xFD, 0x0C}); err == nil {
		t.Error("expected error for SIMD opcode")
	}
}
