package osiris

import (
	"github.com/osirisfilter/osiris/internal/fuse"
	"github.com/osirisfilter/osiris/internal/rng"
)

// noPrefixFilter implements Filter for a key set with varying lengths
// where no key is a proper prefix of another (spec §4.6 "No-prefix").
// Every node additionally carries a one-bit leaf flag: false means the
// node is a true leaf with no children (a completed key and nothing
// past it), true means the node still has at least one child.
type noPrefixFilter struct {
	base
	rootMask uint8
	leaf     *fuse.Dict
}

func buildNoPrefix(keys [][]byte, info keySetInfo, cfg buildConfig) (Filter, int, error) {
	n := len(keys)
	f := &noPrefixFilter{rootMask: rootMaskOf(keys)}

	seed := rng.NewSeed()
	c := &collectorNP{collector: *newCollector(int(float64(info.totalBytes)*8*1.2)+64, cfg.heapAllocThreshold)}
	walkNoPrefix(c, keys, 0, n-1, 0, seed, seed)

	f.maxLinkBits = c.maxLinkLength
	lengthWidth := lengthBitWidth(c.maxLinkLength)
	lenEnt := lengthEntriesBothSides(c.linkLenRaw, lengthWidth)
	leafEnt := flagEntries(c.leaf)
	nodeCount := len(c.hashes)

	f.hashSeed = seed
	ok := buildAllDicts(&f.base, c.hashes, lenEnt, c.linkChunks, lengthWidth)
	f.leaf = fuse.NewDict(len(leafEnt), 1)
	if !f.leaf.Build(c.hashes, leafEnt) {
		ok = false
	}

	retries := 0
	for !ok {
		retries++
		if retries > cfg.maxRetries {
			return nil, retries, ErrPeelExhausted
		}
		seed = rng.NewSeed()
		hashes := make([]uint64, nodeCount)
		next := 0
		hashesNoPrefix(hashes, keys, 0, n-1, 0, seed, seed, &next)
		f.hashSeed = seed
		ok = buildAllDicts(&f.base, hashes, lenEnt, c.linkChunks, lengthWidth)
		if !f.leaf.Build(hashes, leafEnt) {
			ok = false
		}
	}

	f.populateHashCache(cfg.hashCacheSize)
	return f, retries, nil
}

func (f *noPrefixFilter) leafFlag(hash uint64) byte {
	var b [1]byte
	f.leaf.Get(hash, b[:])
	return b[0]
}

// Point reports set membership (spec §4.6, NO_PREFIX pointQueryInternal).
func (f *noPrefixFilter) Point(key []byte) bool {
	return f.traverse(key, true)
}

// Prefix reports whether any key has p as a prefix (spec §4.6,
// NO_PREFIX prefixQueryInternal). Unlike Point, it doesn't require
// stopping exactly at a leaf.
func (f *noPrefixFilter) Prefix(p []byte) bool {
	return f.traverse(p, false)
}

func (f *noPrefixFilter) traverse(key []byte, pointMode bool) bool {
	if len(key) == 0 {
		// NO_PREFIX's classifier never admits an empty-string member
		// alongside any other key, so an empty query can only ever be
		// a (trivial) prefix, never an exact point match.
		return !pointMode
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
		if f.leafFlag(cur) == 0 {
			return false
		}
		linkLen = f.extractLink(boolToInt(bit), cur, linkBuf)
		cur, seed = f.updateHash(cur, seed, bit, &hashID)
	}

	if !pointMode {
		return true
	}
	if pt < linkLen {
		return false
	}
	return f.leafFlag(cur) == 0
}

// Range reports whether any key falls in the requested interval
// (spec §4.6, NO_PREFIX rangeQueryInternal and its tail helpers).
func (f *noPrefixFilter) Range(l []byte, includeL bool, r []byte, includeR bool) bool {
	switch compareBytes(l, r) {
	case 0:
		return includeL && includeR && f.Point(l)
	case 1:
		return false
	}
	return f.rangeQueryInternal(l, includeL, r, includeR)
}

// rangeQueryInternal walks the shared prefix of left and right. The
// loop is bounded by len(left)*8 alone (no fixed key length exists for
// this variant): since left < right is already established, either
// the two diverge inside that span (handled inline) or left runs out
// first, which is the only way the loop can end (a shorter right
// running out first without diverging would make right a prefix of
// left, i.e. right < left, contradicting the precondition).
func (f *noPrefixFilter) rangeQueryInternal(left []byte, includeLeft bool, right []byte, includeRight bool) bool {
	limitBits := len(left) * 8
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

		if f.leafFlag(cur) == 0 {
			return false
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

	// left is a proper prefix of right.
	if pt == linkLen {
		return f.rangeQueryTail(right, pos, cur, seed, hashID, includeRight, false, true)
	}
	return f.rangeQueryRightLink(right, pos, pt, linkLen, linkBuf, cur, seed, hashID, includeRight)
}

func (f *noPrefixFilter) rangeQueryLeftLink(left []byte, pos, pt, linkLen int, linkBuf []byte, cur, seed uint64, hashID int, includeLeft bool) bool {
	keyLenBits := len(left) * 8
	for pt < linkLen && pos < keyLenBits {
		bit := bitAt(left, pos)
		curBit := bitAt(linkBuf, pt)
		if bit != curBit {
			return !bit && curBit
		}
		pt++
		pos++
	}
	if pos == keyLenBits {
		if pt == linkLen {
			return f.leafFlag(cur) != 0 || includeLeft
		}
		return true
	}
	return f.rangeQueryTail(left, pos, cur, seed, hashID, includeLeft, true, true)
}

func (f *noPrefixFilter) rangeQueryRightLink(right []byte, pos, pt, linkLen int, linkBuf []byte, cur, seed uint64, hashID int, includeRight bool) bool {
	keyLenBits := len(right) * 8
	for pt < linkLen && pos < keyLenBits {
		bit := bitAt(right, pos)
		curBit := bitAt(linkBuf, pt)
		if bit != curBit {
			return !curBit && bit
		}
		pt++
		pos++
	}
	if pos == keyLenBits {
		if pt == linkLen {
			if !includeRight {
				return false
			}
			return f.leafFlag(cur) == 0
		}
		return false
	}
	return f.rangeQueryTail(right, pos, cur, seed, hashID, includeRight, false, true)
}

func (f *noPrefixFilter) rangeQueryTail(key []byte, pos int, cur, seed uint64, hashID int, includeTail, isLeft, canPick bool) bool {
	keyLenBits := len(key) * 8
	linkBuf := make([]byte, bitsToBytes(f.maxLinkBits))
	pt, linkLen := 0, 0

	for pos < keyLenBits {
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

		if f.leafFlag(cur) == 0 {
			return canPick && !isLeft
		}

		if bit != isLeft && canPick {
			return true
		}

		linkLen = f.extractLink(boolToInt(bit), cur, linkBuf)
		pt = 0
		cur, seed = f.updateHash(cur, seed, bit, &hashID)
		canPick = true
		pos++
	}

	if f.leafFlag(cur) == 0 {
		return includeTail
	}
	return isLeft
}

// Serialize encodes the NO_PREFIX-specific tail after the shared
// envelope (spec §4.10): the root mask byte, then the leaf dictionary.
func (f *noPrefixFilter) Serialize() []byte {
	buf := make([]byte, 0, 64)
	buf = f.serializeCore(buf, VariantNoPrefix)
	buf = append(buf, f.rootMask)
	buf = f.leaf.Serialize(buf)
	return buf
}

func deserializeNoPrefix(buf []byte) (Filter, error) {
	b, rest, err := deserializeCore(buf, defaultConfig().hashCacheSize)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, ErrTruncated
	}
	f := &noPrefixFilter{base: *b, rootMask: rest[0]}
	leaf, rest, err := fuse.DeserializeDict(rest[1:])
	if err != nil {
		return nil, err
	}
	f.leaf = leaf
	_ = rest
	return f, nil
}
