package osiris

import (
	"github.com/osirisfilter/osiris/internal/fuse"
	"github.com/osirisfilter/osiris/internal/rng"
)

// fixedFilter implements Filter for a key set where every key has the
// same length (spec §4.6 "Fixed"). The root node's child presence is
// summarized by rootMask. Every stored key ends at the same depth, so
// no node is both a completed key and a branch point and the trie
// needs no endpoint bookkeeping; the empty string can be a member only
// as the sole key, a case buildFixed handles separately.
type fixedFilter struct {
	base
	keyLength int // bytes
	rootMask  uint8
}

// buildFixed runs C6's walk once to capture the trie shape and every
// link, then attempts C4's peel with a freshly drawn hash seed,
// redrawing and recomputing only the hash array (via hashesFixed) on
// failure (spec §4.8).
func buildFixed(keys [][]byte, info keySetInfo, cfg buildConfig) (Filter, int, error) {
	n := len(keys)
	f := &fixedFilter{keyLength: info.maxLen}
	if info.maxLen == 0 {
		// The only representable key is the empty string (the sole
		// case where a FIXED key set's fixed length is 0); rootMask is
		// never bit-indexed for a zero-length key, so any nonzero
		// placeholder marks "a key exists" for traverse's len(key)==0
		// shortcut.
		f.rootMask = 1
	} else {
		f.rootMask = rootMaskOf(keys)
	}

	if info.maxLen == 0 {
		// A 0-bit key set has no trie edges to walk at all: the root
		// node is the only node, and it carries no link. Build trivial
		// (zero-entry) dictionaries so Serialize/Deserialize still
		// round-trip, and skip the walk and peel entirely.
		f.hashSeed = rng.NewSeed()
		var noEntries [2][]fuse.Entry
		var noChunks [2][32][]fuse.Entry
		buildAllDicts(&f.base, nil, noEntries, noChunks, lengthBitWidth(0))
		f.populateHashCache(cfg.hashCacheSize)
		return f, 0, nil
	}

	seed := rng.NewSeed()
	c := newCollector(int(float64(info.totalBytes)*8*1.2)+64, cfg.heapAllocThreshold)
	walkFixed(c, keys, 0, n-1, 0, seed, seed)

	f.maxLinkBits = c.maxLinkLength
	lengthWidth := lengthBitWidth(c.maxLinkLength)
	lenEnt := lengthEntriesBothSides(c.linkLenRaw, lengthWidth)
	nodeCount := len(c.hashes)

	f.hashSeed = seed
	ok := buildAllDicts(&f.base, c.hashes, lenEnt, c.linkChunks, lengthWidth)

	retries := 0
	for !ok {
		retries++
		if retries > cfg.maxRetries {
			return nil, retries, ErrPeelExhausted
		}
		seed = rng.NewSeed()
		hashes := make([]uint64, nodeCount)
		next := 0
		hashesFixed(hashes, keys, 0, n-1, 0, seed, seed, &next)
		f.hashSeed = seed
		ok = buildAllDicts(&f.base, hashes, lenEnt, c.linkChunks, lengthWidth)
	}

	f.populateHashCache(cfg.hashCacheSize)
	return f, retries, nil
}

// Point reports set membership (spec §4.6, pointQueryInternal): a
// query whose length doesn't match the trie's fixed key length can
// never be a member.
func (f *fixedFilter) Point(key []byte) bool {
	if len(key) != f.keyLength {
		return false
	}
	return f.traverse(key)
}

// Prefix reports whether any key has p as a prefix (spec §4.6,
// prefixQueryInternal). A prefix longer than the fixed key length
// can't match anything.
func (f *fixedFilter) Prefix(p []byte) bool {
	if len(p) > f.keyLength {
		return false
	}
	return f.traverse(p)
}

// traverse descends the trie matching key bit by bit against stored
// links, returning false the moment a bit mismatches and true if the
// whole query is consumed without contradiction. FIXED needs no
// "did we stop mid-link" check at the end (unlike NO_PREFIX): a
// full-length query (Point) that matches every bit ends exactly at a
// leaf, and a shorter query (Prefix) that stops mid-link still has
// stored keys continuing below it.
func (f *fixedFilter) traverse(key []byte) bool {
	if len(key) == 0 {
		return f.rootMask != 0
	}

	bit0 := bitAt(key, 0)
	if f.rootMask>>uint(boolToInt(bit0))&1 == 0 {
		return false
	}

	keyLenBits := len(key) * 8
	linkBuf := make([]byte, bitsToBytes(f.maxLinkBits))
	cur, seed := f.hashSeed, f.hashSeed
	hashID := 0
	pt, linkLen := 0, 0

	for pos := 0; pos < keyLenBits; pos++ {
		bit := bitAt(key, pos)
		if pt < linkLen {
			if bitAt(linkBuf, pt) != bit {
				return false
			}
			pt++
			if pt == linkLen {
				pt, linkLen = 0, 0
			}
			continue
		}
		linkLen = f.extractLink(boolToInt(bit), cur, linkBuf)
		pt = 0
		cur, seed = f.updateHash(cur, seed, bit, &hashID)
	}
	return true
}

// Range reports whether any key falls in the requested interval
// (spec §4.6, rangeQueryInternal and its left/right tail helpers).
func (f *fixedFilter) Range(l []byte, includeL bool, r []byte, includeR bool) bool {
	switch compareBytes(l, r) {
	case 0:
		return includeL && includeR && f.Point(l)
	case 1:
		return false
	}
	if f.keyLength == 0 {
		// The only representable key is "". Since l < r here, r is
		// always non-empty ("" sorts below everything else), so ""
		// falls in range exactly when l is itself "" and the left
		// bound is inclusive.
		return len(l) == 0 && includeL
	}
	return f.rangeQueryInternal(l, includeL, r, includeR)
}

func (f *fixedFilter) rangeQueryInternal(left []byte, includeLeft bool, right []byte, includeRight bool) bool {
	if len(left) == 0 {
		// Every stored key is lexicographically >= "", so an empty
		// left bound behaves exactly like an inclusive all-zero key of
		// the trie's fixed length: comparison-based traversal never
		// depends on whether the bound is itself a stored key.
		left = make([]byte, f.keyLength)
		includeLeft = true
	}

	leftBit0 := bitAt(left, 0)
	rightBit0 := bitAt(right, 0)

	if leftBit0 != rightBit0 {
		if f.rootMask&1 != 0 {
			if f.rangeQueryTail(left, 0, f.hashSeed, f.hashSeed, 0, includeLeft, true, false) {
				return true
			}
		}
		if f.rootMask&2 != 0 {
			if f.rangeQueryTail(right, 0, f.hashSeed, f.hashSeed, 0, includeRight, false, false) {
				return true
			}
		}
		return false
	}

	if f.rootMask>>uint(boolToInt(leftBit0))&1 == 0 {
		return false
	}

	limitBits := f.keyLength * 8
	if len(left)*8 < limitBits {
		limitBits = len(left) * 8
	}
	if len(right)*8 < limitBits {
		limitBits = len(right) * 8
	}

	linkBuf := make([]byte, bitsToBytes(f.maxLinkBits))
	cur, seed := f.hashSeed, f.hashSeed
	hashID := 0
	pt, linkLen := 0, 0
	pos := 0

	for pos < limitBits {
		leftBit := bitAt(left, pos)
		rightBit := bitAt(right, pos)

		if pt < linkLen {
			curBit := bitAt(linkBuf, pt)
			if leftBit != rightBit {
				if curBit == leftBit && f.rangeQueryLeftLink(left, pos, pt, linkLen, linkBuf, cur, seed, hashID, includeLeft) {
					return true
				}
				if curBit == rightBit && f.rangeQueryRightLink(right, pos, pt, linkLen, linkBuf, cur, seed, hashID, includeRight) {
					return true
				}
				return false
			}
			if curBit != leftBit {
				return false
			}
			pt++
			if pt == linkLen {
				pt, linkLen = 0, 0
			}
			pos++
			continue
		}

		if leftBit != rightBit {
			if f.rangeQueryTail(left, pos, cur, seed, hashID, includeLeft, true, false) {
				return true
			}
			if f.rangeQueryTail(right, pos, cur, seed, hashID, includeRight, false, false) {
				return true
			}
			return false
		}

		linkLen = f.extractLink(boolToInt(leftBit), cur, linkBuf)
		pt = 0
		cur, seed = f.updateHash(cur, seed, leftBit, &hashID)
		pos++
	}

	if pos != len(left)*8 {
		return false
	}
	if pos == f.keyLength*8 {
		return includeLeft
	}
	if pt == linkLen {
		return f.rangeQueryTail(right, pos, cur, seed, hashID, includeRight, false, true)
	}
	return f.rangeQueryRightLink(right, pos, pt, linkLen, linkBuf, cur, seed, hashID, includeRight)
}

// rangeQueryLeftLink compares the left bound against the remaining
// bits of an already-extracted link after the right bound has
// diverged from it, per rangeQueryLeftLink in the source's fixed
// variant.
func (f *fixedFilter) rangeQueryLeftLink(left []byte, pos, pt, linkLen int, linkBuf []byte, cur, seed uint64, hashID int, includeLeft bool) bool {
	limitBits := f.keyLength * 8
	if len(left)*8 < limitBits {
		limitBits = len(left) * 8
	}
	for pt < linkLen && pos < limitBits {
		bit := bitAt(left, pos)
		curBit := bitAt(linkBuf, pt)
		if bit != curBit {
			return !bit && curBit
		}
		pt++
		pos++
	}
	if pos == f.keyLength*8 {
		return pos == len(left)*8 && includeLeft
	}
	return f.rangeQueryTail(left, pos, cur, seed, hashID, includeLeft, true, true)
}

// rangeQueryRightLink is rangeQueryLeftLink's mirror for the right
// bound.
func (f *fixedFilter) rangeQueryRightLink(right []byte, pos, pt, linkLen int, linkBuf []byte, cur, seed uint64, hashID int, includeRight bool) bool {
	limitBits := f.keyLength * 8
	if len(right)*8 < limitBits {
		limitBits = len(right) * 8
	}
	for pt < linkLen && pos < limitBits {
		bit := bitAt(right, pos)
		curBit := bitAt(linkBuf, pt)
		if bit != curBit {
			return !curBit && bit
		}
		pt++
		pos++
	}
	if pos == f.keyLength*8 {
		return pos == len(right)*8 && includeRight
	}
	return f.rangeQueryTail(right, pos, cur, seed, hashID, includeRight, false, true)
}

// rangeQueryTail descends the remaining trie along one side of a
// divergence, answering whether any stored key can still fall within
// the open range (spec §4.6, rangeQueryTail). isLeft selects which
// direction counts as "inside the range" at a mismatch; canPick
// allows an immediate true the moment the walk takes a step away from
// the bound (any key sharing only a proper prefix of the bound and
// diverging towards the open side is automatically in range).
func (f *fixedFilter) rangeQueryTail(key []byte, pos int, cur, seed uint64, hashID int, includeTail, isLeft, canPick bool) bool {
	limitBits := f.keyLength * 8
	if len(key)*8 < limitBits {
		limitBits = len(key) * 8
	}

	linkBuf := make([]byte, bitsToBytes(f.maxLinkBits))
	pt, linkLen := 0, 0

	for pos < limitBits {
		bit := bitAt(key, pos)
		if pt < linkLen {
			curBit := bitAt(linkBuf, pt)
			if bit != curBit {
				if isLeft {
					return !bit && curBit
				}
				return !curBit && bit
			}
			pt++
			if pt == linkLen {
				pt, linkLen = 0, 0
			}
			canPick = true
			pos++
			continue
		}
		if canPick && isLeft != bit {
			return true
		}
		linkLen = f.extractLink(boolToInt(bit), cur, linkBuf)
		pt = 0
		cur, seed = f.updateHash(cur, seed, bit, &hashID)
		canPick = true
		pos++
	}

	if pos < len(key)*8 {
		return !isLeft
	}
	return includeTail
}

// Serialize encodes the FIXED-specific tail after the shared envelope
// (spec §4.10): the root mask byte, then the key length.
func (f *fixedFilter) Serialize() []byte {
	buf := make([]byte, 0, 64)
	buf = f.serializeCore(buf, VariantFixed)
	buf = append(buf, f.rootMask)
	buf = appendU32(buf, uint32(f.keyLength))
	return buf
}

func deserializeFixed(buf []byte) (Filter, error) {
	b, rest, err := deserializeCore(buf, defaultConfig().hashCacheSize)
	if err != nil {
		return nil, err
	}
	if len(rest) < 5 {
		return nil, ErrTruncated
	}
	f := &fixedFilter{base: *b}
	f.rootMask = rest[0]
	f.keyLength = int(decodeLE(rest[1:5]))
	return f, nil
}
