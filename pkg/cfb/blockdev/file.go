package blockdev

import (
	"fmt"
	"io/fs"
	"os"
)

// File is a Backend over a regular file. The whole file is locked for the
// lifetime of the File: shared for read-only access, exclusive otherwise.
type File struct {
	f        *os.File
	readOnly bool
}

// OpenFile opens the file at path, creating it if it does not exist and
// write access is requested, and locks it.
func OpenFile(path string, perm fs.FileMode, readOnly bool) (*File, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	if err := lockFile(f, !readOnly); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock file %s: %w", path, err)
	}

	return &File{f: f, readOnly: readOnly}, nil
}

// ReadAt implements io.ReaderAt.
func (x *File) ReadAt(p []byte, off int64) (int, error) {
	return x.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (x *File) WriteAt(p []byte, off int64) (int, error) {
	return x.f.WriteAt(p, off)
}

// Truncate changes the size of the file.
func (x *File) Truncate(size int64) error {
	return x.f.Truncate(size)
}

// Size returns the size of the file.
func (x *File) Size() (int64, error) {
	fi, err := x.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Sync commits the file contents to stable storage.
func (x *File) Sync() error {
	if x.readOnly {
		return nil
	}
	return x.f.Sync()
}

// Close unlocks and closes the file.
func (x *File) Close() error {
	if err := unlockFile(x.f); err != nil {
		_ = x.f.Close()
		return fmt.Errorf("unlock file: %w", err)
	}
	return x.f.Close()
}
