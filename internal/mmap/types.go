package mmap

import "errors"

var (
	// ErrClosed is returned when using a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned when the requested mapping size is not positive.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrOutOfBounds is returned for ranges outside the mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
)
