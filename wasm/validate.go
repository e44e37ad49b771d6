package wasm

import "fmt"

// Validate checks the module for the structural properties the sandbox
// relies on. Instruction typing is left to the compiler.
func (m *Module) Validate() error {
	checks := []func() error{
		m.validateTypeIndices,
		m.validateFunctionIndices,
		m.validateMemories,
		m.validateExports,
		m.validateStart,
		m.validateDataCount,
		m.validateCodeCount,
		m.validateDataSegments,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d", i, typeIdx)
		}
	}
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}
	return nil
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(m.NumImportedFuncs() + len(m.Funcs))
	if m.Start != nil && *m.Start >= numFuncs {
		return fmt.Errorf("start function index %d exceeds function count %d", *m.Start, numFuncs)
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Index >= numFuncs {
			return fmt.Errorf("export %d (%s) references invalid function index %d", i, exp.Name, exp.Index)
		}
	}
	return nil
}

func (m *Module) validateMemories() error {
	if total := m.NumImportedMemories() + len(m.Memories); total > 1 {
		return fmt.Errorf("module declares %d memories, at most one is supported", total)
	}
	for i, mem := range m.Memories {
		l := mem.Limits
		if l.Min > MaxPages {
			return fmt.Errorf("memory %d: min pages %d exceeds maximum %d", i, l.Min, MaxPages)
		}
		if l.HasMax && l.Max > MaxPages {
			return fmt.Errorf("memory %d: max pages %d exceeds maximum %d", i, l.Max, MaxPages)
		}
		if l.HasMax && l.Max < l.Min {
			return fmt.Errorf("memory %d: max pages %d below min %d", i, l.Max, l.Min)
		}
		if l.Shared && !l.HasMax {
			return fmt.Errorf("memory %d: shared memory must have maximum limit", i)
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool, len(m.Exports))
	for i, exp := range m.Exports {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q at index %d", exp.Name, i)
		}
		seen[exp.Name] = true
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	ft := m.GetFuncType(*m.Start)
	if ft == nil {
		return fmt.Errorf("start function %d has no type", *m.Start)
	}
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return fmt.Errorf("start function must have signature [] -> [], got [%d params] -> [%d results]",
			len(ft.Params), len(ft.Results))
	}
	return nil
}

func (m *Module) validateDataCount() error {
	if m.DataCount != nil && *m.DataCount != uint32(len(m.Data)) {
		return fmt.Errorf("data count section declares %d segments, but data section has %d",
			*m.DataCount, len(m.Data))
	}
	return nil
}

func (m *Module) validateCodeCount() error {
	if len(m.Code) != len(m.Funcs) {
		return fmt.Errorf("code section has %d entries but function section has %d",
			len(m.Code), len(m.Funcs))
	}
	return nil
}

func (m *Module) validateDataSegments() error {
	hasMemory := m.NumImportedMemories()+len(m.Memories) > 0
	for i, seg := range m.Data {
		if seg.Passive {
			continue
		}
		if !hasMemory || seg.MemIdx != 0 {
			return fmt.Errorf("data segment %d references memory %d which does not exist", i, seg.MemIdx)
		}
	}
	return nil
}
