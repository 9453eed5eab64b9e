package redisql

import (
	"errors"
	"fmt"
)

var (
	// ErrParse is returned when command text cannot be tokenized.
	ErrParse = errors.New("parse error")

	// ErrArgument is returned when a known verb receives the wrong number of
	// arguments or an argument that cannot be coerced to the required type.
	ErrArgument = errors.New("invalid arguments")

	// ErrStore is returned when the store rejects a command or cannot be reached.
	ErrStore = errors.New("store error")

	// ErrState is returned when a cursor is used while not positioned on a row,
	// or after it has been closed.
	ErrState = errors.New("invalid cursor state")

	// ErrNotFound is returned when a column name is not part of a result.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported is returned for operations the system does not implement.
	ErrUnsupported = errors.New("not supported")
)

func argumentError(verb, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s %s", ErrArgument, verb, fmt.Sprintf(format, args...))
}

func storeError(verb string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStore, verb, err)
}
