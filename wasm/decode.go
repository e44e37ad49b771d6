package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-sandbox/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
	ErrUnsupported    = errors.New("unsupported feature")
)

// ParseModule decodes a WebAssembly 1.0 binary. Element segments are kept
// undecoded; everything the sandbox inspects is decoded fully.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastOrder int

	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}
		if id != SectionCustom {
			order := sectionOrder(id)
			if order == 0 {
				return nil, fmt.Errorf("unknown section ID: 0x%02x", id)
			}
			if order <= lastOrder {
				return nil, fmt.Errorf("section %d appears out of order", id)
			}
			lastOrder = order
		}

		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		sr, err := r.Sub(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		name, parse := sectionParser(id)
		if err := parse(sr, m); err != nil {
			return nil, fmt.Errorf("%s section: %w", name, err)
		}
		if sr.Len() != 0 {
			return nil, sr.WrapError(name, errors.New("section size mismatch"))
		}
	}

	return m, nil
}

// sectionOrder returns the canonical position of a section, which differs
// from its ID for data count. Zero means unknown.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return 0
	}
}

type sectionFunc func(*binary.Reader, *Module) error

func sectionParser(id byte) (string, sectionFunc) {
	switch id {
	case SectionCustom:
		return "custom", parseCustomSection
	case SectionType:
		return "type", parseTypeSection
	case SectionImport:
		return "import", parseImportSection
	case SectionFunction:
		return "function", parseFunctionSection
	case SectionTable:
		return "table", parseTableSection
	case SectionMemory:
		return "memory", parseMemorySection
	case SectionGlobal:
		return "global", parseGlobalSection
	case SectionExport:
		return "export", parseExportSection
	case SectionStart:
		return "start", parseStartSection
	case SectionElement:
		return "element", parseElementSection
	case SectionCode:
		return "code", parseCodeSection
	case SectionData:
		return "data", parseDataSection
	default:
		return "data count", parseDataCountSection
	}
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: r.ReadRemaining(),
	})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: form 0x%02x: %w", i, form, ErrUnsupported)
		}
		params, err := readValTypes(r)
		if err != nil {
			return fmt.Errorf("type %d params: %w", i, err)
		}
		results, err := readValTypes(r)
		if err != nil {
			return fmt.Errorf("type %d results: %w", i, err)
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Len() {
		return nil, r.WrapError("value types", binary.ErrUnexpectedEOF)
	}
	types := make([]ValType, count)
	for i := range types {
		if types[i], err = readValType(r); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch v := ValType(b); v {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExtern:
		return v, nil
	default:
		return 0, fmt.Errorf("value type 0x%02x: %w", b, ErrUnsupported)
	}
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		var imp Import
		if imp.Module, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Name, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Desc.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		switch imp.Desc.Kind {
		case KindFunc:
			if imp.Desc.TypeIdx, err = r.ReadU32(); err != nil {
				return err
			}
		case KindTable:
			t, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &t
		case KindMemory:
			l, err := readLimits(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &MemoryType{Limits: l}
		case KindGlobal:
			g, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &g
		default:
			return fmt.Errorf("import %s.%s: kind 0x%02x: %w", imp.Module, imp.Name, imp.Desc.Kind, ErrUnsupported)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Funcs = append(m.Funcs, idx)
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		t, err := readTableType(r)
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, t)
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		l, err := readLimits(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, MemoryType{Limits: l})
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return fmt.Errorf("global %d init: %w", i, err)
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		var e Export
		if e.Name, err = r.ReadName(); err != nil {
			return err
		}
		if e.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		if e.Index, err = r.ReadU32(); err != nil {
			return err
		}
		m.Exports = append(m.Exports, e)
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	m.Elements = append(m.Elements, RawSection{Data: r.ReadRemaining()})
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, 0, count)
	for i := uint32(0); i < count; i++ {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		br, err := r.Sub(int(size))
		if err != nil {
			return fmt.Errorf("body %d: %w", i, err)
		}
		groups, err := br.ReadU32()
		if err != nil {
			return err
		}
		var body FuncBody
		for g := uint32(0); g < groups; g++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			vt, err := readValType(br)
			if err != nil {
				return err
			}
			body.Locals = append(body.Locals, LocalEntry{Count: n, ValType: vt})
		}
		body.Code = br.ReadRemaining()
		if len(body.Code) == 0 || body.Code[len(body.Code)-1] != OpEnd {
			return fmt.Errorf("body %d: missing end", i)
		}
		m.Code = append(m.Code, body)
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, 0, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		var seg DataSegment
		switch flags {
		case 0:
		case 1:
			seg.Passive = true
		case 2:
			if seg.MemIdx, err = r.ReadU32(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("data segment %d: flags %d: %w", i, flags, ErrUnsupported)
		}
		if !seg.Passive {
			if seg.Offset, err = readInitExpr(r); err != nil {
				return fmt.Errorf("data segment %d offset: %w", i, err)
			}
		}
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		if seg.Init, err = r.ReadBytes(int(size)); err != nil {
			return fmt.Errorf("data segment %d: %w", i, err)
		}
		m.Data = append(m.Data, seg)
	}
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &n
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&LimitsMemory64 != 0 || flags&^(LimitsHasMax|LimitsShared) != 0 {
		return Limits{}, fmt.Errorf("limits flags 0x%02x: %w", flags, ErrUnsupported)
	}
	var l Limits
	l.Shared = flags&LimitsShared != 0
	min, err := r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	l.Min = uint64(min)
	if flags&LimitsHasMax != 0 {
		max, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		l.Max = uint64(max)
		l.HasMax = true
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	et, err := readValType(r)
	if err != nil {
		return TableType{}, err
	}
	if et != ValFuncRef && et != ValExtern {
		return TableType{}, fmt.Errorf("table element type %s: %w", et, ErrUnsupported)
	}
	l, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: et, Limits: l}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

// readInitExpr copies a constant expression, including its end opcode.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	start := r.Offset()
	var buf []byte
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, op)
		if op == OpEnd {
			return buf, nil
		}
		switch op {
		case OpI32Const, OpI64Const, OpGlobalGet:
			buf, err = copyLEB128(r, buf)
		case OpF32Const:
			buf, err = copyBytes(r, buf, 4)
		case OpF64Const:
			buf, err = copyBytes(r, buf, 8)
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		default:
			return nil, fmt.Errorf("opcode 0x%02x in constant expression at %d: %w", op, start, ErrUnsupported)
		}
		if err != nil {
			return nil, err
		}
	}
}

func copyLEB128(r *binary.Reader, buf []byte) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if b&0x80 == 0 {
			return buf, nil
		}
	}
}

func copyBytes(r *binary.Reader, buf []byte, n int) ([]byte, error) {
	data, err := r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return append(buf, data...), nil
}
