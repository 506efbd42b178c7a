// Package testutil provides testing utilities for arena tests.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Request Sizes
//
//	rng := testutil.NewRNG(seed)
//	n := rng.LogUniformSize(1, 1<<20) // small sizes as likely as large ones
//	n = rng.ZipfSize(sizes, 1.5)      // a few hot size classes
//
// # Overlap Checking
//
//	rc := testutil.NewRangeChecker()
//	if err := rc.Add(uintptr(p), n); err != nil { ... } // after alloc
//	rc.Remove(uintptr(p))                               // before free
package testutil
