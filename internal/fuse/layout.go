// Package fuse implements the 4-wise binary fuse retrieval structure
// that backs every per-node payload dictionary in the filter (spec
// §3, §4.4, §4.5; components C3 and C4): the segmented position
// function, leaf-first peeling over the resulting hypergraph, and a
// tagged dictionary type (1/2/4-bit and byte-multiple widths) that
// stores a function hash -> value such that XOR-ing the four
// positions a hash maps to recovers the stored value.
package fuse

import (
	"math"

	"github.com/osirisfilter/osiris/internal/rng"
)

// Layout holds the derived geometry of one dictionary's backing
// storage, computed once from its key count and value width (spec
// §3, "Layout parameters").
type Layout struct {
	Keys         uint32
	BitsPerValue uint32
	LenInBytes   int

	SegLog           uint
	SegLen           uint64
	SegMask          uint64
	FirstBucketCount uint64
	TotalSegments    uint64
	TotalPages       uint64
	StorageBytes     int
}

// PrepareLayout derives a Layout for a dictionary over n keys storing
// values of bitsPerValue bits each (spec §3).
func PrepareLayout(n int, bitsPerValue int) Layout {
	var l Layout
	l.Keys = uint32(n)
	l.BitsPerValue = uint32(bitsPerValue)
	l.LenInBytes = (bitsPerValue + 7) / 8

	l.SegLog = segmentLengthLog(n)
	l.SegLen = uint64(1) << l.SegLog
	l.SegMask = l.SegLen - 1

	sizeFactor := sizeFactor(n)
	capacity := float64(n) * sizeFactor
	segCount := uint64(math.Ceil(capacity / float64(l.SegLen)))
	if segCount < 4 {
		segCount = 4
	}

	l.FirstBucketCount = segCount - 3
	l.TotalSegments = segCount
	l.TotalPages = l.TotalSegments * l.SegLen
	l.StorageBytes = int((l.TotalPages*uint64(bitsPerValue) + 7) / 8)
	return l
}

// segmentLengthLog implements seg_log = max(1, floor(log2(n)/log2(2.91) - 0.5)),
// with the source's n==1 special case folded in (both formulas agree,
// but the special case avoids a log(1) = 0 edge computed in floating
// point).
func segmentLengthLog(n int) uint {
	if n <= 1 {
		return 1
	}
	v := math.Floor(math.Log(float64(n))/math.Log(2.91) - 0.5)
	if v < 1 {
		v = 1
	}
	return uint(v)
}

// sizeFactor implements size_factor = max(1.075, 0.77 + 0.305*log(600000)/log(n)).
func sizeFactor(n int) float64 {
	if n <= 2 {
		n = 2
	}
	v := 0.77 + 0.305*math.Log(600000.0)/math.Log(float64(n))
	if v < 1.075 {
		v = 1.075
	}
	return v
}

// Location is the four-slot position of one key's hash, plus the
// first_bucket it was derived from (needed again for the radix-sort
// peeling step, spec §4.4).
type Location struct {
	Position    [4]uint64
	FirstBucket uint64
}

// Locate computes the four segmented positions of hash under layout
// (spec §3, "Position function").
func Locate(hash uint64, l Layout) Location {
	var loc Location
	loc.FirstBucket = (hash >> l.SegLog) % l.FirstBucketCount
	off := loc.FirstBucket * l.SegLen

	loc.Position[0] = (hash & l.SegMask) + off
	loc.Position[1] = (rng.Rotl64(hash, l.SegLog) & l.SegMask) + l.SegLen + off
	loc.Position[2] = (rng.Rotl64(hash, 2*l.SegLog) & l.SegMask) + 2*l.SegLen + off
	loc.Position[3] = (rng.Rotl64(hash, 3*l.SegLog) & l.SegMask) + 3*l.SegLen + off
	return loc
}
