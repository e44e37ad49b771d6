package wasmsandbox

import (
	"errors"
	"testing"
)

func TestByteMemory(t *testing.T) {
	m := make(ByteMemory, 16)

	if err := m.WriteU32(4, 0xDEADBEEF); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	if v, err := m.ReadU32(4); err != nil || v != 0xDEADBEEF {
		t.Errorf("ReadU32 = %#x, %v", v, err)
	}
	if v, _ := m.ReadU8(4); v != 0xEF {
		t.Errorf("little-endian low byte = %#x", v)
	}
	if err := m.WriteU64(8, 1<<40); err != nil {
		t.Fatalf("WriteU64: %v", err)
	}
	if v, _ := m.ReadU64(8); v != 1<<40 {
		t.Errorf("ReadU64 = %d", v)
	}

	b, err := m.Read(4, 2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	b[0] = 0
	if v, _ := m.ReadU8(4); v != 0xEF {
		t.Error("Read must return a copy")
	}
	if m.Size() != 16 {
		t.Errorf("Size = %d", m.Size())
	}
}

func TestByteMemoryBounds(t *testing.T) {
	m := make(ByteMemory, 8)
	tests := []struct {
		name string
		fn   func() error
	}{
		{"u64 straddles end", func() error { _, err := m.ReadU64(1); return err }},
		{"u32 past end", func() error { _, err := m.ReadU32(8); return err }},
		{"write past end", func() error { return m.Write(6, []byte{1, 2, 3}) }},
		{"huge offset", func() error { return m.WriteU16(0xFFFFFFFF, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var oor *OutOfRangeError
			if err := tt.fn(); !errors.As(err, &oor) {
				t.Errorf("got %v, want OutOfRangeError", err)
			}
		})
	}
}
