package logicerr

import (
	"errors"
	"fmt"
)

// Error marks errors caused by the caller rather than by the container:
// a missing element, a name collision and the like. I/O failures and
// structural corruption are never wrapped into it.
var Error = errors.New("logical error")

// New returns logical error with a provided message.
func New(msg string) error {
	return Wrap(errors.New(msg))
}

// Wrap wraps arbitrary error into a logical one.
func Wrap(err error) error {
	return fmt.Errorf("%w: %w", Error, err)
}

// Is reports whether err is a logical error.
func Is(err error) bool {
	return errors.Is(err, Error)
}
