package modgen

import (
	"testing"

	"github.com/wippyai/wasm-sandbox/wasm"
)

func TestFixturesDecodeAndValidate(t *testing.T) {
	fixtures := map[string][]byte{
		"null":           Null(),
		"add":            Add(),
		"fib":            Fib(),
		"many_args":      ManyArgs(),
		"recurse":        Recurse(),
		"unreachable":    Unreachable(),
		"divide":         DivideByZero(),
		"out_of_bounds":  OutOfBounds(1 << 20),
		"load":           Load(2),
		"grow":           Grow(4),
		"data_image":     DataImage(),
		"large_dense":    LargeDense(4),
		"large_sparse":   LargeSparse(4),
		"hostcall_echo":  HostcallEcho(),
		"hostcall_loop":  HostcallLoop(),
		"hostcall_fail":  HostcallFail(),
		"hostcall_mem":   HostcallMemory(),
		"missing_import": MissingImport(),
	}

	for name, bin := range fixtures {
		t.Run(name, func(t *testing.T) {
			m, err := wasm.ParseModuleValidate(bin)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			exp, ok := m.FindExport(Entry, wasm.KindFunc)
			if !ok {
				t.Fatalf("no %q export", Entry)
			}
			if m.GetFuncType(exp.Index) == nil {
				t.Fatalf("entry index %d has no type", exp.Index)
			}
			if _, err := wasm.DecodeInstructions(m.Code[0].Code); err != nil {
				t.Fatalf("decode body: %v", err)
			}
		})
	}
}

func TestHostcallImportsPrecedeDefinitions(t *testing.T) {
	m, err := wasm.ParseModule(HostcallMemory())
	if err != nil {
		t.Fatal(err)
	}
	if got := m.NumImportedFuncs(); got != 2 {
		t.Fatalf("imported funcs = %d, want 2", got)
	}
	exp, _ := m.FindExport(Entry, wasm.KindFunc)
	if exp.Index != 2 {
		t.Errorf("entry index = %d, want 2", exp.Index)
	}
}

func TestDataImageLayout(t *testing.T) {
	m, err := wasm.ParseModule(DataImage())
	if err != nil {
		t.Fatal(err)
	}
	img, err := m.InitialImage()
	if err != nil {
		t.Fatal(err)
	}
	if len(img.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(img.Segments))
	}
	if img.Segments[0].Offset != DataImageGreetingAddr {
		t.Errorf("greeting offset = %#x", img.Segments[0].Offset)
	}
	dst := make([]byte, img.Size)
	if err := img.Materialize(dst); err != nil {
		t.Fatal(err)
	}
	if string(dst[DataImageGreetingAddr:DataImageGreetingAddr+len(DataImageGreeting)]) != string(DataImageGreeting) {
		t.Error("greeting not materialized")
	}
	if dst[DataImagePatternAddr+200] != 200 {
		t.Errorf("pattern byte = %d, want 200", dst[DataImagePatternAddr+200])
	}
}

func TestLargeDenseCoversMemory(t *testing.T) {
	m, err := wasm.ParseModule(LargeDense(3))
	if err != nil {
		t.Fatal(err)
	}
	img, err := m.InitialImage()
	if err != nil {
		t.Fatal(err)
	}
	if img.DataBytes() != img.Size {
		t.Errorf("data bytes = %d, size = %d", img.DataBytes(), img.Size)
	}
}

func TestFibOf(t *testing.T) {
	want := []uint64{0, 1, 1, 2, 3, 5, 8, 13, 21, 34, 55}
	for n, w := range want {
		if got := FibOf(uint64(n)); got != w {
			t.Errorf("FibOf(%d) = %d, want %d", n, got, w)
		}
	}
}
