package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-sandbox/wasm/internal/binary"
)

// ErrNotConstant is returned when an offset expression cannot be evaluated
// without instantiating the module.
var ErrNotConstant = errors.New("expression is not a load-time constant")

// Layout describes the linear memory a module needs.
type Layout struct {
	MinPages uint32
	MaxPages uint32
	HasMax   bool
	Imported bool
	Present  bool
}

// MinBytes returns the byte size of the initial memory.
func (l Layout) MinBytes() uint64 {
	return uint64(l.MinPages) * PageSize
}

// MaxBytes returns the byte size the memory may grow to, capped at limit
// pages when the module declares no maximum or a larger one.
func (l Layout) MaxBytes(limitPages uint32) uint64 {
	max := uint32(MaxPages)
	if l.HasMax {
		max = l.MaxPages
	}
	if limitPages > 0 && limitPages < max {
		max = limitPages
	}
	return uint64(max) * PageSize
}

// MemoryLayout returns the layout of the module's single memory.
func (m *Module) MemoryLayout() Layout {
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil {
			l := limitsLayout(imp.Desc.Memory.Limits)
			l.Imported = true
			return l
		}
	}
	if len(m.Memories) == 0 {
		return Layout{}
	}
	return limitsLayout(m.Memories[0].Limits)
}

func limitsLayout(l Limits) Layout {
	return Layout{
		MinPages: uint32(l.Min),
		MaxPages: uint32(l.Max),
		HasMax:   l.HasMax,
		Present:  true,
	}
}

// Segment is one active data segment placed at a resolved offset.
type Segment struct {
	Data   []byte
	Offset uint32
}

// Image is the initial content of linear memory: zero everywhere except
// the active data segments, applied in order.
type Image struct {
	Segments []Segment
	Size     uint64 // bytes of the initial memory
}

// Extent returns one past the highest byte any segment writes.
func (img Image) Extent() uint64 {
	var end uint64
	for _, s := range img.Segments {
		if e := uint64(s.Offset) + uint64(len(s.Data)); e > end {
			end = e
		}
	}
	return end
}

// DataBytes returns the total bytes carried by segments.
func (img Image) DataBytes() uint64 {
	var n uint64
	for _, s := range img.Segments {
		n += uint64(len(s.Data))
	}
	return n
}

// Materialize writes the image into dst. Bytes of dst beyond the image
// size are left untouched; bytes within it are zeroed first.
func (img Image) Materialize(dst []byte) error {
	if uint64(len(dst)) < img.Size {
		return fmt.Errorf("destination of %d bytes cannot hold image of %d bytes", len(dst), img.Size)
	}
	clear(dst[:img.Size])
	for _, s := range img.Segments {
		copy(dst[s.Offset:], s.Data)
	}
	return nil
}

// InitialImage resolves every active data segment to a constant offset and
// checks it fits the initial memory.
func (m *Module) InitialImage() (Image, error) {
	layout := m.MemoryLayout()
	img := Image{Size: layout.MinBytes()}
	for i, seg := range m.Data {
		if seg.Passive {
			continue
		}
		off, err := m.EvalConstI32(seg.Offset)
		if err != nil {
			return Image{}, fmt.Errorf("data segment %d offset: %w", i, err)
		}
		end := uint64(uint32(off)) + uint64(len(seg.Init))
		if end > img.Size {
			return Image{}, fmt.Errorf("data segment %d ends at %d, beyond initial memory of %d bytes", i, end, img.Size)
		}
		img.Segments = append(img.Segments, Segment{Offset: uint32(off), Data: seg.Init})
	}
	return img, nil
}

// EvalConstI32 evaluates an i32 constant expression. global.get is
// resolved through immutable globals defined by the module itself.
func (m *Module) EvalConstI32(expr []byte) (int32, error) {
	return m.evalConstI32(expr, 0)
}

func (m *Module) evalConstI32(expr []byte, depth int) (int32, error) {
	if depth > len(m.Globals) {
		return 0, fmt.Errorf("global initializer cycle: %w", ErrNotConstant)
	}
	r := binary.NewReader(expr)
	var stack []int32
	for r.Len() > 0 {
		op, _ := r.ReadByte()
		switch op {
		case OpI32Const:
			v, err := r.ReadS32()
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		case OpGlobalGet:
			idx, err := r.ReadU32()
			if err != nil {
				return 0, err
			}
			v, err := m.globalConstI32(idx, depth)
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		case OpI32Add, OpI32Sub, OpI32Mul:
			if len(stack) < 2 {
				return 0, errors.New("constant expression stack underflow")
			}
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			stack = stack[:len(stack)-2]
			switch op {
			case OpI32Add:
				stack = append(stack, a+b)
			case OpI32Sub:
				stack = append(stack, a-b)
			default:
				stack = append(stack, a*b)
			}
		case OpEnd:
			if len(stack) != 1 {
				return 0, fmt.Errorf("constant expression leaves %d values", len(stack))
			}
			return stack[0], nil
		default:
			return 0, fmt.Errorf("opcode 0x%02x: %w", op, ErrNotConstant)
		}
	}
	return 0, errors.New("constant expression missing end")
}

func (m *Module) globalConstI32(idx uint32, depth int) (int32, error) {
	imported := uint32(m.NumImportedGlobals())
	if idx < imported {
		return 0, fmt.Errorf("imported global %d: %w", idx, ErrNotConstant)
	}
	local := idx - imported
	if int(local) >= len(m.Globals) {
		return 0, fmt.Errorf("global %d does not exist", idx)
	}
	g := m.Globals[local]
	if g.Type.Mutable || g.Type.ValType != ValI32 {
		return 0, fmt.Errorf("global %d is not an immutable i32: %w", idx, ErrNotConstant)
	}
	return m.evalConstI32(g.Init, depth+1)
}
