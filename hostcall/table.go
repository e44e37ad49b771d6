package hostcall

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/errors"
)

// Namespace is the import module name guest code uses for host calls.
const Namespace = "sandbox"

// Call describes a pending host call: which function the guest invoked and
// the raw arguments, encoded per its signature.
type Call struct {
	Name  string
	Args  []uint64
	Index int
}

func (c Call) String() string {
	return fmt.Sprintf("%s#%d%v", c.Name, c.Index, c.Args)
}

// Handler services a host call. mem is valid only until the handler
// returns; a handler must not retain it. A returned error becomes a
// host_call trap for the calling instance.
type Handler func(ctx context.Context, mem wasmsandbox.Memory, args []uint64) ([]uint64, error)

// Signature is the core wasm signature of a host function.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

func (s Signature) String() string {
	return fmt.Sprintf("%s -> %s", valueTypes(s.Params), valueTypes(s.Results))
}

func valueTypes(vts []api.ValueType) string {
	out := "("
	for i, vt := range vts {
		if i > 0 {
			out += ", "
		}
		out += api.ValueTypeName(vt)
	}
	return out + ")"
}

// Func is one registered host function.
type Func struct {
	Handler   Handler
	Name      string
	Signature Signature
	Index     int
}

// Table maps host-call names and indices to handlers. Registration and
// dispatch are safe for concurrent use.
type Table struct {
	byName map[string]*Func
	funcs  []*Func
	mu     sync.RWMutex
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{byName: make(map[string]*Func)}
}

// Register adds a host function and returns its call index. Names are
// unique within a table.
func (t *Table) Register(name string, params, results []api.ValueType, h Handler) (int, error) {
	if name == "" {
		return 0, errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}
	if h == nil {
		return 0, errors.InvalidInput(errors.PhaseHost, "handler cannot be nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[name]; exists {
		return 0, errors.Registration(errors.PhaseHost, Namespace, name,
			fmt.Errorf("function %q already registered", name))
	}
	f := &Func{
		Name:      name,
		Index:     len(t.funcs),
		Signature: Signature{Params: params, Results: results},
		Handler:   h,
	}
	t.funcs = append(t.funcs, f)
	t.byName[name] = f
	return f.Index, nil
}

// RegisterWIT registers a host function whose signature is given as a WIT
// function type, for example "func(a: u64, b: u64) -> u64".
func (t *Table) RegisterWIT(name, witSig string, h Handler) (int, error) {
	sigs, err := ParseSignatures(name + ": " + witSig + ";")
	if err != nil {
		return 0, err
	}
	sig, ok := sigs[name]
	if !ok {
		return 0, errors.ParseFailed("host signature "+witSig, fmt.Errorf("no function type found"))
	}
	return t.Register(name, sig.Params, sig.Results, h)
}

// Lookup returns the function registered under name.
func (t *Table) Lookup(name string) (*Func, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.byName[name]
	return f, ok
}

// At returns the function with the given call index.
func (t *Table) At(index int) (*Func, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.funcs) {
		return nil, false
	}
	return t.funcs[index], true
}

// Funcs returns the registered functions in index order.
func (t *Table) Funcs() []*Func {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Func(nil), t.funcs...)
}

// Len returns the number of registered functions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.funcs)
}

// Dispatch runs the handler for call. Arity of both arguments and
// results is checked against the registered signature.
func (t *Table) Dispatch(ctx context.Context, mem wasmsandbox.Memory, call Call) ([]uint64, error) {
	f, ok := t.At(call.Index)
	if !ok || (call.Name != "" && f.Name != call.Name) {
		return nil, errors.HostCall(call.Name, errors.NotFound(errors.PhaseHost, "host function", call.String()))
	}
	if len(call.Args) != len(f.Signature.Params) {
		return nil, errors.HostCall(f.Name, fmt.Errorf("expected %d arguments, got %d",
			len(f.Signature.Params), len(call.Args)))
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.HostCall(f.Name, err)
	}

	results, err := f.Handler(ctx, mem, call.Args)
	if err != nil {
		return nil, errors.HostCall(f.Name, err)
	}
	if len(results) != len(f.Signature.Results) {
		return nil, errors.HostCall(f.Name, fmt.Errorf("handler returned %d results, signature declares %d",
			len(results), len(f.Signature.Results)))
	}
	return results, nil
}
