package ydoc

import (
	"errors"
	"fmt"
)

var (
	ErrDestroyed        = errors.New("ydoc: document destroyed")
	ErrTxnClosed        = errors.New("ydoc: transaction already committed")
	ErrForeignTxn       = errors.New("ydoc: transaction belongs to another document")
	ErrUnreachable      = errors.New("ydoc: shared type no longer reachable")
	ErrIndexOutOfRange  = errors.New("ydoc: index out of range")
	ErrUnsupportedValue = errors.New("ydoc: unsupported value")
	ErrMalformedUpdate  = errors.New("ydoc: malformed update")
)

// ValueError reports a value that cannot be stored in a shared type.
type ValueError struct {
	Value any
	Where string
}

func (e *ValueError) Error() string {
	if e.Where != "" {
		return fmt.Sprintf("%v: %T at %s", ErrUnsupportedValue, e.Value, e.Where)
	}
	return fmt.Sprintf("%v: %T", ErrUnsupportedValue, e.Value)
}

func (e *ValueError) Unwrap() error { return ErrUnsupportedValue }

func rangeError(index, length int) error {
	return fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, index, length)
}
