// Package profile captures and serializes the state of a buddy arena.
//
// A Snapshot records the per-order free sets, the used-block table and the
// sizes of live overflow allocations at one instant. It is meant for offline
// fragmentation analysis: dump it from a running simulation, load it later and
// inspect the Report.
//
// # Encoding
//
//	[magic "DAPF"][version u8][compression u8][reserved u16]
//	[uncompressed size u32][payload size u32][payload...]
//
// The payload is compressed with LZ4 (fast) or ZSTD (better ratio) when that
// saves at least 10%; otherwise it is stored raw and the compression byte says so.
// Free sets are stored in the portable roaring format.
package profile
