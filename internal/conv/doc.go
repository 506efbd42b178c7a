// Package conv provides safe integer type conversion utilities.
//
// These functions perform bounds checking to prevent integer overflow/underflow
// when converting between signed/unsigned and different bit-width integer types.
//
// Use cases:
//   - Validating decoded profile headers (counts, sizes, orders)
//   - Converting byte offsets into fixed-width block indices
//
// For conversions that are provably safe by domain constraints (e.g., loop
// indices, bounded orders), use direct type casts instead to avoid overhead.
package conv
