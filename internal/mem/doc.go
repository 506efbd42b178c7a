// Package mem provides memory allocation utilities.
//
// # Aligned Allocation
//
// Provides power-of-two aligned []byte allocation on the Go heap. The default
// alignment is 64 bytes (cache line, AVX-512 friendly).
package mem
