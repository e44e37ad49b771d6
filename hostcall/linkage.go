package hostcall

import (
	"sync"
)

var (
	defaultTable = NewTable()
	linkOnce     sync.Once
	linkErr      error
)

// Default returns the process-wide host-call table.
func Default() *Table {
	return defaultTable
}

// EnsureLinked populates the process-wide table with the built-in host
// functions. Guest modules reach these only through imports, so nothing
// in the host call graph refers to them; this registry keeps them bound.
// It is idempotent and safe to call from any goroutine.
func EnsureLinked() (*Table, error) {
	linkOnce.Do(func() {
		linkErr = RegisterBuiltins(defaultTable)
	})
	return defaultTable, linkErr
}

// MustLink is EnsureLinked for process initialization.
func MustLink() *Table {
	t, err := EnsureLinked()
	if err != nil {
		panic(err)
	}
	return t
}
