package runtime

import (
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/errors"
)

// callMemory is the view of guest memory handed to one host call. It is
// revoked when the instance resumes; later use returns invalid_state.
type callMemory struct {
	mem   api.Memory
	valid atomic.Bool
}

var _ wasmsandbox.Memory = (*callMemory)(nil)

func newCallMemory(mem api.Memory) *callMemory {
	m := &callMemory{mem: mem}
	m.valid.Store(mem != nil)
	return m
}

func (m *callMemory) revoke() {
	m.valid.Store(false)
}

func (m *callMemory) check() error {
	if !m.valid.Load() {
		return errors.InvalidState(errors.PhaseHost, "access guest memory", "outside its host call")
	}
	return nil
}

func (m *callMemory) outOfRange(offset uint32, length uint64) error {
	return &wasmsandbox.OutOfRangeError{Offset: offset, Length: length, Size: uint64(m.mem.Size())}
}

func (m *callMemory) Size() uint32 {
	if m.check() != nil {
		return 0
	}
	return m.mem.Size()
}

func (m *callMemory) Read(offset, length uint32) ([]byte, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	b, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, m.outOfRange(offset, uint64(length))
	}
	return append([]byte(nil), b...), nil
}

func (m *callMemory) Write(offset uint32, data []byte) error {
	if err := m.check(); err != nil {
		return err
	}
	if !m.mem.Write(offset, data) {
		return m.outOfRange(offset, uint64(len(data)))
	}
	return nil
}

func (m *callMemory) ReadU8(offset uint32) (uint8, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, m.outOfRange(offset, 1)
	}
	return v, nil
}

func (m *callMemory) ReadU16(offset uint32) (uint16, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, m.outOfRange(offset, 2)
	}
	return v, nil
}

func (m *callMemory) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, m.outOfRange(offset, 4)
	}
	return v, nil
}

func (m *callMemory) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, m.outOfRange(offset, 8)
	}
	return v, nil
}

func (m *callMemory) WriteU8(offset uint32, value uint8) error {
	if err := m.check(); err != nil {
		return err
	}
	if !m.mem.WriteByte(offset, value) {
		return m.outOfRange(offset, 1)
	}
	return nil
}

func (m *callMemory) WriteU16(offset uint32, value uint16) error {
	if err := m.check(); err != nil {
		return err
	}
	if !m.mem.WriteUint16Le(offset, value) {
		return m.outOfRange(offset, 2)
	}
	return nil
}

func (m *callMemory) WriteU32(offset uint32, value uint32) error {
	if err := m.check(); err != nil {
		return err
	}
	if !m.mem.WriteUint32Le(offset, value) {
		return m.outOfRange(offset, 4)
	}
	return nil
}

func (m *callMemory) WriteU64(offset uint32, value uint64) error {
	if err := m.check(); err != nil {
		return err
	}
	if !m.mem.WriteUint64Le(offset, value) {
		return m.outOfRange(offset, 8)
	}
	return nil
}
