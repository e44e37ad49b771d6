package binary

import (
	"errors"
	"math"
	"testing"
)

func TestLEB128RoundTrip(t *testing.T) {
	unsigned := []uint64{0, 1, 127, 128, 624485, math.MaxUint32, math.MaxUint64}
	for _, v := range unsigned {
		w := NewWriter()
		w.WriteU64(v)
		got, err := NewReader(w.Bytes()).ReadU64()
		if err != nil || got != v {
			t.Errorf("U64 %d: got %d, %v", v, got, err)
		}
	}

	signed := []int64{0, -1, 63, -64, 64, -65, -123456, math.MinInt64, math.MaxInt64}
	for _, v := range signed {
		w := NewWriter()
		w.WriteS64(v)
		got, err := NewReader(w.Bytes()).ReadS64()
		if err != nil || got != v {
			t.Errorf("S64 %d: got %d, %v", v, got, err)
		}
	}

	for _, v := range []int32{0, -1, math.MinInt32, math.MaxInt32} {
		w := NewWriter()
		w.WriteS32(v)
		got, err := NewReader(w.Bytes()).ReadS32()
		if err != nil || got != v {
			t.Errorf("S32 %d: got %d, %v", v, got, err)
		}
	}
}

func TestLEB128Overflow(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(*Reader) error
	}{
		{"u32 too long", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, func(r *Reader) error { _, err := r.ReadU32(); return err }},
		{"u32 high bits", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x1F}, func(r *Reader) error { _, err := r.ReadU32(); return err }},
		{"s32 out of range", []byte{0x80, 0x80, 0x80, 0x80, 0x08}, func(r *Reader) error { _, err := r.ReadS32(); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(NewReader(tt.data))
			if !errors.Is(err, ErrOverflow) {
				t.Errorf("got %v, want ErrOverflow", err)
			}
		})
	}
}

func TestReaderBounds(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if _, err := r.ReadBytes(4); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("ReadBytes past end: %v", err)
	}

	sub, err := r.Sub(2)
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if sub.Offset() != 0 || r.Offset() != 2 {
		t.Errorf("offsets sub=%d parent=%d", sub.Offset(), r.Offset())
	}
	b, _ := sub.ReadByte()
	if b != 1 || sub.Offset() != 1 {
		t.Errorf("sub read %d at %d", b, sub.Offset())
	}
	if rest := r.ReadRemaining(); len(rest) != 1 || rest[0] != 3 {
		t.Errorf("ReadRemaining = %v", rest)
	}
	if _, err := r.ReadByte(); err == nil {
		t.Error("expected EOF")
	}
}

func TestReadName(t *testing.T) {
	w := NewWriter()
	w.WriteName("sandbox")
	got, err := NewReader(w.Bytes()).ReadName()
	if err != nil || got != "sandbox" {
		t.Errorf("ReadName = %q, %v", got, err)
	}

	if _, err := NewReader([]byte{2, 0xC3, 0x28}).ReadName(); err == nil {
		t.Error("expected invalid UTF-8 error")
	}
}

func TestParseError(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, _ = r.ReadByte()
	err := r.WrapError("code", ErrOverflow)
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Position != 1 || pe.Section != "code" {
		t.Errorf("WrapError = %#v", err)
	}
	if !errors.Is(err, ErrOverflow) {
		t.Error("ParseError should unwrap")
	}
}
