// Package rng implements the scalar xorshift64 step function used to
// derive per-node hashes (spec §4.3) and to draw the per-build hash
// seed, plus the 64-bit rotate used by the fuse position function.
//
// This is deliberately not cespare/xxhash or any other off-the-shelf
// hash: the exact bit pattern of the xorshift recurrence is part of the
// on-disk contract between build and query (a filter built with one
// step function cannot be queried with another), so it is pinned here
// rather than delegated to a general-purpose hashing library.
package rng

import "math/rand/v2"

// Step advances a 64-bit xorshift generator by one step. Build and
// query must call this function identically; any divergence lands
// lookups on the wrong dictionary cell (spec §4.3).
func Step(v uint64) uint64 {
	v ^= v << 13
	v ^= v >> 7
	v ^= v << 17
	return v
}

// Rotl64 rotates n left by offset bits. offset is taken mod 64; offset
// 0 (the i=0 case of the fuse position function) returns n unchanged.
func Rotl64(n uint64, offset uint) uint64 {
	offset &= 63
	if offset == 0 {
		return n
	}
	return (n << offset) | (n >> (64 - offset))
}

// Source draws the bits NewSeed returns. It's a variable, not a direct
// call to rand.Uint64, so a test can substitute a scripted sequence of
// seeds (spec §8 S6: forcing the first draw of a build to be one known
// to fail peeling, then letting the retry draw a real one). Production
// code never reassigns it.
var Source = rand.Uint64

// NewSeed draws a fresh process-wide hash seed. Called once per build
// attempt and once more per peel retry.
func NewSeed() uint64 {
	return Source()
}
