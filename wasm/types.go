package wasm

// Module is a decoded WebAssembly 1.0 module plus the bulk-memory data count.
type Module struct {
	DataCount      *uint32
	Start          *uint32
	Types          []FuncType
	Imports        []Import
	Funcs          []uint32 // type index of each defined function
	Tables         []TableType
	Memories       []MemoryType
	Globals        []Global
	Exports        []Export
	Elements       []RawSection
	Code           []FuncBody
	Data           []DataSegment
	CustomSections []CustomSection
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// ValType is a value type byte.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// Import is one entry of the import section.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// ImportDesc describes what an import brings in. Only the field matching
// Kind is meaningful.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType describes a linear memory.
type MemoryType struct {
	Limits Limits
}

// Limits bounds a table or memory. Max is meaningful only when HasMax.
type Limits struct {
	Min    uint64
	Max    uint64
	HasMax bool
	Shared bool
}

// GlobalType describes a global.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a defined global with its constant initializer.
type Global struct {
	Init []byte // constant expression including the trailing end
	Type GlobalType
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// RawSection keeps the undecoded payload of an element segment so the
// encoder can round-trip it.
type RawSection struct {
	Data []byte
}

// FuncBody is a defined function body.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // instructions including the trailing end
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment is a data segment. Passive segments have no memory or offset.
type DataSegment struct {
	Offset  []byte // constant expression including the trailing end
	Init    []byte
	MemIdx  uint32
	Passive bool
}

// CustomSection is a named custom section.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs counts function imports, which occupy the low function indices.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			n++
		}
	}
	return n
}

// NumImportedGlobals counts global imports.
func (m *Module) NumImportedGlobals() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal {
			n++
		}
	}
	return n
}

// NumImportedMemories counts memory imports.
func (m *Module) NumImportedMemories() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory {
			n++
		}
	}
	return n
}

// NumImportedTables counts table imports.
func (m *Module) NumImportedTables() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindTable {
			n++
		}
	}
	return n
}

// GetFuncType returns the signature of the function at funcIdx in the
// combined (imports first) index space, or nil.
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	imported := uint32(0)
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if imported == funcIdx {
			return m.typeAt(imp.Desc.TypeIdx)
		}
		imported++
	}
	local := funcIdx - imported
	if funcIdx < imported || int(local) >= len(m.Funcs) {
		return nil
	}
	return m.typeAt(m.Funcs[local])
}

func (m *Module) typeAt(idx uint32) *FuncType {
	if int(idx) >= len(m.Types) {
		return nil
	}
	return &m.Types[idx]
}

// AddType returns the index of ft, appending it when not already present.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// FindExport returns the export with the given name and kind.
func (m *Module) FindExport(name string, kind byte) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name && e.Kind == kind {
			return e, true
		}
	}
	return Export{}, false
}
