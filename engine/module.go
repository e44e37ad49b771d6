package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/hostcall"
	"github.com/wippyai/wasm-sandbox/wasm"
)

// DefaultEntry is the entry point export used when LoadOptions names none.
const DefaultEntry = "run"

// Digest identifies module bytes.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:8])
}

type moduleKey struct {
	entry  string
	digest Digest
}

// LoadOptions configures Load.
type LoadOptions struct {
	Name  string // defaults to the digest
	Entry string // defaults to DefaultEntry
}

// Module is a compiled, validated module with its memory layout. It is
// immutable and may back any number of instances concurrently.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
	name     string
	entry    string
	entrySig hostcall.Signature
	image    wasm.Image
	layout   wasm.Layout
	digest   Digest
	imports  int

	refMu    sync.Mutex
	refs     int  // live instances
	unloaded bool // compiled code is freed when refs reaches zero
	freed    bool
}

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// Digest returns the blake3 digest of the module bytes.
func (m *Module) Digest() Digest { return m.digest }

// Layout returns the linear memory requirements.
func (m *Module) Layout() wasm.Layout { return m.layout }

// Entry returns the name of the entry point export.
func (m *Module) Entry() string { return m.entry }

// EntrySignature returns the core signature of the entry point.
func (m *Module) EntrySignature() hostcall.Signature { return m.entrySig }

// HostImports returns how many host functions the module imports. A
// module without imports never yields to the host.
func (m *Module) HostImports() int { return m.imports }

// Image returns the initial memory image.
func (m *Module) Image() wasm.Image { return m.image }

// MaterializeImage writes the initial memory image into dst.
func (m *Module) MaterializeImage(dst []byte) error {
	return m.image.Materialize(dst)
}

// MinBytes returns the initial linear memory size.
func (m *Module) MinBytes() uint64 {
	return m.layout.MinBytes()
}

// MaxBytes returns the largest size linear memory may reach under the
// engine's memory limit. Zero when the module has no memory.
func (m *Module) MaxBytes() uint64 {
	if !m.layout.Present {
		return 0
	}
	return m.layout.MaxBytes(m.engine.cfg.MemoryLimitPages)
}

// Load validates and compiles a module. Loading the same bytes with the
// same entry point twice returns the cached Module.
func (e *Engine) Load(ctx context.Context, bin []byte, opts LoadOptions) (*Module, error) {
	if opts.Entry == "" {
		opts.Entry = DefaultEntry
	}
	key := moduleKey{digest: blake3.Sum256(bin), entry: opts.Entry}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.Closed(errors.PhaseLoad, "engine")
	}
	if m, ok := e.modules[key]; ok {
		e.mu.Unlock()
		return m, nil
	}
	e.mu.Unlock()

	decoded, err := wasm.ParseModuleValidate(bin)
	if err != nil {
		return nil, errors.Load("decode module", err)
	}
	if err := e.checkImports(decoded); err != nil {
		return nil, err
	}

	layout := decoded.MemoryLayout()
	if layout.Imported {
		return nil, errors.Unsupported(errors.PhaseLoad, "imported linear memory")
	}
	if layout.HasMax && layout.MaxPages > e.cfg.MemoryLimitPages {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Value(layout.MaxPages).
			Detail("memory maximum of %d pages exceeds limit of %d", layout.MaxPages, e.cfg.MemoryLimitPages).
			Build()
	}
	image, err := decoded.InitialImage()
	if err != nil {
		return nil, errors.Load("resolve initial image", err)
	}

	exp, ok := decoded.FindExport(opts.Entry, wasm.KindFunc)
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "entry point", opts.Entry)
	}
	ft := decoded.GetFuncType(exp.Index)
	if ft == nil {
		return nil, errors.Load(fmt.Sprintf("entry point %q has no type", opts.Entry), nil)
	}

	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "compile module")
	}

	m := &Module{
		engine:   e,
		compiled: compiled,
		name:     opts.Name,
		entry:    opts.Entry,
		entrySig: hostcall.Signature{Params: valueTypes(ft.Params), Results: valueTypes(ft.Results)},
		image:    image,
		layout:   layout,
		digest:   key.digest,
		imports:  decoded.NumImportedFuncs(),
	}
	if m.name == "" {
		m.name = m.digest.String()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		_ = compiled.Close(ctx)
		return nil, errors.Closed(errors.PhaseLoad, "engine")
	}
	if existing, ok := e.modules[key]; ok {
		_ = compiled.Close(ctx)
		return existing, nil
	}
	e.modules[key] = m

	e.logger.Debug("module loaded",
		zap.String("module", m.name),
		zap.Stringer("digest", m.digest),
		zap.Uint32("min_pages", layout.MinPages),
		zap.Int("segments", len(image.Segments)))
	return m, nil
}

// Unload drops m from the module cache. The next Load of the same bytes
// compiles again. The compiled code is freed once the last instance
// holding m releases it; those instances keep running and resetting.
func (e *Engine) Unload(ctx context.Context, m *Module) error {
	if m == nil || m.engine != e {
		return errors.InvalidInput(errors.PhaseLoad, "module does not belong to this engine")
	}
	e.mu.Lock()
	key := moduleKey{digest: m.digest, entry: m.entry}
	if cached, ok := e.modules[key]; ok && cached == m {
		delete(e.modules, key)
	}
	e.mu.Unlock()

	m.refMu.Lock()
	m.unloaded = true
	free := m.refs == 0 && !m.freed
	m.freed = m.freed || free
	refs := m.refs
	m.refMu.Unlock()

	if !free {
		e.logger.Debug("module unload deferred", zap.String("module", m.name), zap.Int("instances", refs))
		return nil
	}
	return m.compiled.Close(ctx)
}

// Retain records an instance holding m. It fails once m has been unloaded
// and freed.
func (m *Module) Retain() error {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	if m.freed {
		return errors.Closed(errors.PhaseInstantiate, "module "+m.name)
	}
	m.refs++
	return nil
}

// Release drops a reference taken by Retain. The last release of an
// unloaded module frees its compiled code.
func (m *Module) Release(ctx context.Context) error {
	m.refMu.Lock()
	if m.refs > 0 {
		m.refs--
	}
	free := m.refs == 0 && m.unloaded && !m.freed
	m.freed = m.freed || free
	m.refMu.Unlock()

	if !free {
		return nil
	}
	return m.compiled.Close(ctx)
}

// Instances returns how many instances currently hold m.
func (m *Module) Instances() int {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	return m.refs
}

// LoadFile loads a module from disk. Files ending in .zst are zstd
// decompressed first.
func (e *Engine) LoadFile(ctx context.Context, path string, opts LoadOptions) (*Module, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read module file", err)
	}
	if strings.HasSuffix(path, ".zst") {
		raw, err = decompress(raw)
		if err != nil {
			return nil, errors.Load("decompress module file", err)
		}
	}
	if opts.Name == "" {
		base := filepath.Base(path)
		base = strings.TrimSuffix(base, ".zst")
		opts.Name = strings.TrimSuffix(base, ".wasm")
	}
	return e.Load(ctx, raw, opts)
}

func decompress(src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(src, nil)
}

// checkImports verifies every import is a sandbox host function this
// engine provides, with a matching signature.
func (e *Engine) checkImports(m *wasm.Module) error {
	var missing []string
	for _, imp := range m.Imports {
		if imp.Desc.Kind == wasm.KindMemory {
			continue // rejected by the layout check
		}
		key := imp.Module + "#" + imp.Name
		if imp.Desc.Kind != wasm.KindFunc || imp.Module != hostcall.Namespace {
			missing = append(missing, key)
			continue
		}
		f, ok := e.hostFuncs[imp.Name]
		if !ok {
			missing = append(missing, key)
			continue
		}
		if int(imp.Desc.TypeIdx) >= len(m.Types) {
			return errors.Load(fmt.Sprintf("import %s has no type", key), nil)
		}
		ft := m.Types[imp.Desc.TypeIdx]
		if !sameTypes(valueTypes(ft.Params), f.Signature.Params) ||
			!sameTypes(valueTypes(ft.Results), f.Signature.Results) {
			return errors.New(errors.PhaseLoad, errors.KindMissingImport).
				Path(hostcall.Namespace, imp.Name).
				Detail("import signature does not match host function %s", f.Signature).
				Build()
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.NewMissingImportsError(missing)
	}
	return nil
}

func valueTypes(vts []wasm.ValType) []api.ValueType {
	out := make([]api.ValueType, len(vts))
	for i, vt := range vts {
		out[i] = api.ValueType(vt)
	}
	return out
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
