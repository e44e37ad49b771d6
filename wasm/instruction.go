package wasm

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-sandbox/wasm/internal/binary"
)

// Instruction is a decoded WebAssembly instruction.
type Instruction struct {
	Imm    any
	Opcode byte
}

// BlockImm holds the block type for block, loop and if.
type BlockImm struct {
	Type int32 // -64=void, -1=i32, -2=i64, -3=f32, -4=f64, >=0=type index
}

// BranchImm holds the label index for br and br_if.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set and local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds the memarg of loads and stores.
type MemoryImm struct {
	Offset uint32
	Align  uint32
}

// I32Imm holds the value of i32.const.
type I32Imm struct {
	Value int32
}

// I64Imm holds the value of i64.const.
type I64Imm struct {
	Value int64
}

// F32Imm holds the value of f32.const.
type F32Imm struct {
	Value float32
}

// F64Imm holds the value of f64.const.
type F64Imm struct {
	Value float64
}

// MiscImm holds the sub-opcode and index operands of 0xFC instructions.
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// GetCallTarget returns the callee of a direct call.
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// IsMemoryAccess reports whether the instruction reads or writes linear memory.
func (i Instruction) IsMemoryAccess() bool {
	if i.Opcode >= OpI32Load && i.Opcode <= OpMemoryGrow {
		return true
	}
	if imm, ok := i.Imm.(MiscImm); ok {
		return imm.SubOpcode >= MiscMemoryInit && imm.SubOpcode <= MiscMemoryFill
	}
	return false
}

// DecodeInstructions decodes a function body or constant expression.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)

	for r.Len() > 0 {
		op, _ := r.ReadByte()
		instr := Instruction{Opcode: op}
		var err error

		switch {
		case op == OpBlock || op == OpLoop || op == OpIf:
			var bt int64
			bt, err = readBlockType(r)
			instr.Imm = BlockImm{Type: int32(bt)}

		case op == OpBr || op == OpBrIf:
			var idx uint32
			idx, err = r.ReadU32()
			instr.Imm = BranchImm{LabelIdx: idx}

		case op == OpBrTable:
			instr.Imm, err = readBrTable(r)

		case op == OpCall:
			var idx uint32
			idx, err = r.ReadU32()
			instr.Imm = CallImm{FuncIdx: idx}

		case op == OpCallIndirect:
			var imm CallIndirectImm
			if imm.TypeIdx, err = r.ReadU32(); err == nil {
				imm.TableIdx, err = r.ReadU32()
			}
			instr.Imm = imm

		case op >= OpLocalGet && op <= OpLocalTee:
			var idx uint32
			idx, err = r.ReadU32()
			instr.Imm = LocalImm{LocalIdx: idx}

		case op == OpGlobalGet || op == OpGlobalSet:
			var idx uint32
			idx, err = r.ReadU32()
			instr.Imm = GlobalImm{GlobalIdx: idx}

		case op >= OpI32Load && op <= OpI64Store32:
			var imm MemoryImm
			if imm.Align, err = r.ReadU32(); err == nil {
				imm.Offset, err = r.ReadU32()
			}
			instr.Imm = imm

		case op == OpMemorySize || op == OpMemoryGrow:
			err = expectZero(r)

		case op == OpI32Const:
			var v int32
			v, err = r.ReadS32()
			instr.Imm = I32Imm{Value: v}

		case op == OpI64Const:
			var v int64
			v, err = r.ReadS64()
			instr.Imm = I64Imm{Value: v}

		case op == OpF32Const:
			var bits uint32
			bits, err = r.ReadU32LE()
			instr.Imm = F32Imm{Value: math.Float32frombits(bits)}

		case op == OpF64Const:
			var bits uint64
			bits, err = r.ReadU64LE()
			instr.Imm = F64Imm{Value: math.Float64frombits(bits)}

		case op == OpPrefixMisc:
			instr.Imm, err = readMisc(r)

		case op == OpUnreachable, op == OpNop, op == OpElse, op == OpEnd,
			op == OpReturn, op == OpDrop, op == OpSelect,
			op >= OpI32Eqz && op <= 0xC4:

		default:
			return nil, fmt.Errorf("opcode 0x%02x at %d: %w", op, r.Offset()-1, ErrUnsupported)
		}
		if err != nil {
			return nil, fmt.Errorf("opcode 0x%02x: %w", op, err)
		}
		instrs = append(instrs, instr)
	}

	return instrs, nil
}

func readBlockType(r *binary.Reader) (int64, error) {
	// block types are s33; every valid value fits the s64 decoder
	return r.ReadS64()
}

func readBrTable(r *binary.Reader) (BrTableImm, error) {
	count, err := r.ReadU32()
	if err != nil {
		return BrTableImm{}, err
	}
	if int(count) > r.Len() {
		return BrTableImm{}, binary.ErrUnexpectedEOF
	}
	labels := make([]uint32, count)
	for i := range labels {
		if labels[i], err = r.ReadU32(); err != nil {
			return BrTableImm{}, err
		}
	}
	def, err := r.ReadU32()
	if err != nil {
		return BrTableImm{}, err
	}
	return BrTableImm{Labels: labels, Default: def}, nil
}

func readMisc(r *binary.Reader) (MiscImm, error) {
	sub, err := r.ReadU32()
	if err != nil {
		return MiscImm{}, err
	}
	imm := MiscImm{SubOpcode: sub}
	switch {
	case sub <= 7:
		// saturating truncation, no immediates
	case sub == MiscMemoryInit:
		idx, err := r.ReadU32()
		if err != nil {
			return imm, err
		}
		imm.Operands = []uint32{idx}
		err = expectZero(r)
		return imm, err
	case sub == MiscDataDrop:
		idx, err := r.ReadU32()
		imm.Operands = []uint32{idx}
		return imm, err
	case sub == MiscMemoryCopy:
		if err := expectZero(r); err != nil {
			return imm, err
		}
		return imm, expectZero(r)
	case sub == MiscMemoryFill:
		return imm, expectZero(r)
	default:
		return imm, fmt.Errorf("0xfc sub-opcode %d: %w", sub, ErrUnsupported)
	}
	return imm, nil
}

func expectZero(r *binary.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != 0 {
		return fmt.Errorf("memory index %d: %w", b, ErrUnsupported)
	}
	return nil
}

// EncodeInstructions encodes instructions into their binary form.
func EncodeInstructions(instrs []Instruction) []byte {
	w := binary.NewWriter()
	for i := range instrs {
		encodeInstruction(w, &instrs[i])
	}
	return w.Bytes()
}

func encodeInstruction(w *binary.Writer, instr *Instruction) {
	w.Byte(instr.Opcode)
	switch imm := instr.Imm.(type) {
	case BlockImm:
		w.WriteS64(int64(imm.Type))
	case BranchImm:
		w.WriteU32(imm.LabelIdx)
	case BrTableImm:
		w.WriteU32(uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			w.WriteU32(l)
		}
		w.WriteU32(imm.Default)
	case CallImm:
		w.WriteU32(imm.FuncIdx)
	case CallIndirectImm:
		w.WriteU32(imm.TypeIdx)
		w.WriteU32(imm.TableIdx)
	case LocalImm:
		w.WriteU32(imm.LocalIdx)
	case GlobalImm:
		w.WriteU32(imm.GlobalIdx)
	case MemoryImm:
		w.WriteU32(imm.Align)
		w.WriteU32(imm.Offset)
	case I32Imm:
		w.WriteS32(imm.Value)
	case I64Imm:
		w.WriteS64(imm.Value)
	case F32Imm:
		w.WriteU32LE(math.Float32bits(imm.Value))
	case F64Imm:
		w.WriteU64LE(math.Float64bits(imm.Value))
	case MiscImm:
		w.WriteU32(imm.SubOpcode)
		switch imm.SubOpcode {
		case MiscMemoryInit:
			w.WriteU32(imm.Operands[0])
			w.Byte(0)
		case MiscDataDrop:
			w.WriteU32(imm.Operands[0])
		case MiscMemoryCopy:
			w.Byte(0)
			w.Byte(0)
		case MiscMemoryFill:
			w.Byte(0)
		}
	case nil:
		if instr.Opcode == OpMemorySize || instr.Opcode == OpMemoryGrow {
			w.Byte(0)
		}
	}
}
