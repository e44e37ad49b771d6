package wasmsandbox

import (
	"encoding/binary"
	"fmt"
)

// Memory is a view of an instance's linear memory handed to host calls.
// Offsets are guest addresses. Views given to host-call handlers are only
// valid for the duration of the call.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
	Size() uint32
}

// OutOfRangeError reports a guest address range outside linear memory.
type OutOfRangeError struct {
	Offset uint32
	Length uint64
	Size   uint64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("memory access [%d, %d) outside %d bytes", e.Offset, uint64(e.Offset)+e.Length, e.Size)
}

// ByteMemory implements Memory over a byte slice. Read returns a copy.
type ByteMemory []byte

var _ Memory = ByteMemory(nil)

func (m ByteMemory) span(offset uint32, length uint64) ([]byte, error) {
	end := uint64(offset) + length
	if end > uint64(len(m)) {
		return nil, &OutOfRangeError{Offset: offset, Length: length, Size: uint64(len(m))}
	}
	return m[offset:end], nil
}

func (m ByteMemory) Size() uint32 {
	return uint32(len(m))
}

func (m ByteMemory) Read(offset, length uint32) ([]byte, error) {
	b, err := m.span(offset, uint64(length))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (m ByteMemory) Write(offset uint32, data []byte) error {
	b, err := m.span(offset, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

func (m ByteMemory) ReadU8(offset uint32) (uint8, error) {
	b, err := m.span(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m ByteMemory) ReadU16(offset uint32) (uint16, error) {
	b, err := m.span(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m ByteMemory) ReadU32(offset uint32) (uint32, error) {
	b, err := m.span(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m ByteMemory) ReadU64(offset uint32) (uint64, error) {
	b, err := m.span(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m ByteMemory) WriteU8(offset uint32, value uint8) error {
	b, err := m.span(offset, 1)
	if err != nil {
		return err
	}
	b[0] = value
	return nil
}

func (m ByteMemory) WriteU16(offset uint32, value uint16) error {
	b, err := m.span(offset, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, value)
	return nil
}

func (m ByteMemory) WriteU32(offset uint32, value uint32) error {
	b, err := m.span(offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, value)
	return nil
}

func (m ByteMemory) WriteU64(offset uint32, value uint64) error {
	b, err := m.span(offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, value)
	return nil
}
