package blockdev

import (
	"io"
)

// Backend is the physical medium a Device addresses by blocks. File, Memory
// and Bolt implement it; any other medium can be injected.
type Backend interface {
	io.ReaderAt
	io.WriterAt

	// Truncate changes the size of the medium. Extension fills with zeros.
	Truncate(size int64) error
	// Size returns current size of the medium in bytes.
	Size() (int64, error)
	// Sync commits written data to stable storage.
	Sync() error
	// Close releases the medium.
	Close() error
}
