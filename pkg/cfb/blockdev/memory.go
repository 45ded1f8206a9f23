package blockdev

import (
	"io"
	"sync"
)

// Memory is a Backend keeping the whole container in a byte slice.
type Memory struct {
	mtx  sync.RWMutex
	data []byte
}

// NewMemory returns Memory backend initialized with a copy of data.
func NewMemory(data []byte) *Memory {
	return &Memory{data: append([]byte(nil), data...)}
}

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt, growing the buffer as needed.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if end := off + int64(len(p)); end > int64(len(m.data)) {
		m.grow(end)
	}
	return copy(m.data[off:], p), nil
}

// Truncate changes the size of the buffer.
func (m *Memory) Truncate(size int64) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	m.grow(size)
	return nil
}

func (m *Memory) grow(size int64) {
	if size <= int64(cap(m.data)) {
		old := len(m.data)
		m.data = m.data[:size]
		clear(m.data[old:])
		return
	}

	data := make([]byte, size, size+size/4)
	copy(data, m.data)
	m.data = data
}

// Size returns the size of the buffer.
func (m *Memory) Size() (int64, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return int64(len(m.data)), nil
}

// Bytes returns a copy of the buffer.
func (m *Memory) Bytes() []byte {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return append([]byte(nil), m.data...)
}

// Sync is a no-op.
func (m *Memory) Sync() error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }
