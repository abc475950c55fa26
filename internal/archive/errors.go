package archive

import "errors"

var (
	// ErrNotFound is returned for unknown sources and chunks, and when no
	// chunk covers a requested timestamp or interval.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a control operation does not fit the
	// source's current status, or a capture loop is already registered.
	ErrConflict = errors.New("conflict")

	// ErrInvalidArgument is returned for malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
)
