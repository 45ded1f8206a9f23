// Package common contains definitions shared by all layers of the
// compound file implementation.
package common

import (
	"errors"
	"fmt"

	"github.com/nspcc-dev/cfb/pkg/util/logicerr"
)

var (
	// ErrInvalidArgument is returned for empty or too long names,
	// unsupported flags and other malformed requests.
	ErrInvalidArgument = logicerr.New("invalid argument")

	// ErrNotFound is returned when a path component does not exist.
	ErrNotFound = logicerr.New("element not found")

	// ErrAlreadyExists is returned when a created element collides with a
	// sibling name.
	ErrAlreadyExists = logicerr.New("element already exists")

	// ErrNotEmpty is returned when a populated storage is destroyed.
	ErrNotEmpty = logicerr.New("storage is not empty")

	// ErrClosed is returned for operations on a closed container or handle.
	ErrClosed = logicerr.New("container is closed")
)

var (
	// ErrAccessDenied is returned when an operation is not permitted by the
	// mode the container was opened in or by the state of the element.
	ErrAccessDenied = errors.New("access denied")

	// ErrReadOnly MUST be returned for modifying operations when the
	// container was opened in read-only mode.
	ErrReadOnly = fmt.Errorf("%w: opened as read-only", ErrAccessDenied)

	// ErrInUse is returned when an element with open handles is destroyed
	// or moved.
	ErrInUse = fmt.Errorf("%w: element is in use", ErrAccessDenied)

	// ErrNoSpace MUST be returned when the device cannot be grown or the
	// allocation table runs out of addressable blocks.
	ErrNoSpace = errors.New("no free space")

	// ErrCorrupt is returned when the container structure is inconsistent:
	// bad magic, a cycle or an unexpected sentinel in a chain, an
	// out-of-bounds directory reference.
	ErrCorrupt = errors.New("corrupted container")

	// ErrNotSupported is returned by operations the implementation does not
	// provide, such as Revert.
	ErrNotSupported = errors.New("operation not supported")

	// ErrOutOfRange is returned when a block past the end of the device is
	// read.
	ErrOutOfRange = errors.New("block out of range")
)

// Corruptf returns ErrCorrupt annotated with formatted details.
func Corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}
