package darena

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSize is returned when a negative size is requested.
	ErrInvalidSize = errors.New("darena: invalid allocation size")
	// ErrClosed is returned when allocating from a closed arena.
	ErrClosed = errors.New("darena: arena is closed")
	// ErrBackingExhausted is matched by every *BackingExhaustedError.
	ErrBackingExhausted = errors.New("darena: backing allocator exhausted")
	// ErrInvalidConfig is matched by every *ConfigError.
	ErrInvalidConfig = errors.New("darena: invalid configuration")
	// ErrInvalidFree is matched by every *InvalidFreeError.
	ErrInvalidFree = errors.New("darena: invalid free")
)

// BackingExhaustedError reports that the backing allocator could not provide
// a chunk. There is no further fallback.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type BackingExhaustedError struct {
	Requested int
	Backing   BackingKind
	// PoolFree and OverflowLive describe the arena when the request failed.
	PoolFree     int
	OverflowLive int
	// Budget is the memory limit of the arena's resource controller,
	// 0 if unlimited.
	Budget int64
	cause  error
}

func (e *BackingExhaustedError) Error() string {
	if e.Budget > 0 {
		return fmt.Sprintf("darena: %s backing cannot provide %d bytes (pool free %d, live overflow %d, budget %d): %v",
			e.Backing, e.Requested, e.PoolFree, e.OverflowLive, e.Budget, e.cause)
	}
	return fmt.Sprintf("darena: %s backing cannot provide %d bytes (pool free %d, live overflow %d): %v",
		e.Backing, e.Requested, e.PoolFree, e.OverflowLive, e.cause)
}

func (e *BackingExhaustedError) Unwrap() error { return e.cause }

// Is reports whether target is ErrBackingExhausted.
func (e *BackingExhaustedError) Is(target error) bool { return target == ErrBackingExhausted }

// InvalidFreeError is the panic value raised when freeing a pointer that was
// not returned by the arena, or was already freed.
type InvalidFreeError struct {
	Pointer uintptr
	Reason  string
}

func (e *InvalidFreeError) Error() string {
	return fmt.Sprintf("darena: invalid free of %#x: %s", e.Pointer, e.Reason)
}

// Is reports whether target is ErrInvalidFree.
func (e *InvalidFreeError) Is(target error) bool { return target == ErrInvalidFree }

// ConfigError describes a rejected constructor argument.
type ConfigError struct {
	Field  string
	Value  int
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("darena: invalid %s %d: %s", e.Field, e.Value, e.Reason)
}

// Is reports whether target is ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }
