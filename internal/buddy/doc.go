// Package buddy implements the bookkeeping of a binary buddy tree.
//
// A Tree tracks which blocks of a pool are free. It knows nothing about
// memory: it hands out byte offsets relative to the pool start and takes them
// back. Callers own the pool, the used-block table and all locking.
//
// Blocks at order o are blockSize<<o bytes. The free blocks of one order are
// kept in a roaring bitmap keyed by block index (offset >> (log2(blockSize)+o)),
// so the buddy of index i is i^1 and its parent at order o+1 is i>>1.
//
// # Allocation
//
// Allocate(o) takes the lowest free index at order o. When the order is empty
// it recursively allocates one block of order o+1, keeps the lower half and
// frees the upper half at order o.
//
// # Coalescing
//
// Deallocate(o, off) merges the block with its buddy whenever the buddy is
// free at the same order and repeats one level up. Top-order blocks never
// merge: they are independent roots.
package buddy
