package osiris

import (
	"github.com/osirisfilter/osiris/internal/fuse"
	"github.com/osirisfilter/osiris/internal/rng"
)

// generalFilter implements Filter for a key set where some key is a
// proper prefix of another (spec §4.6 "General"). It carries no root
// mask: an empty-string key can be a member here alongside other
// keys, so the root node is queried the same way as any other
// node (through mask, not a special-cased byte).
//
// Every node's 2-bit mask records which children exist (bit 0 = a "0"
// child, bit 1 = a "1" child); the 1-bit endpoint flag disambiguates a
// completed key from a pure branch point, and is only meaningful (and
// only ever stored) at nodes where mask == 3, since that's the only
// place a node can simultaneously be a completed key and have both
// children.
type generalFilter struct {
	base
	mask     *fuse.Dict
	endpoint *fuse.Dict
}

func buildGeneral(keys [][]byte, info keySetInfo, cfg buildConfig) (Filter, int, error) {
	n := len(keys)
	f := &generalFilter{}

	seed := rng.NewSeed()
	c := &collectorGeneral{collector: *newCollector(int(float64(info.totalBytes)*8*1.2)+64, cfg.heapAllocThreshold)}
	walkGeneral(c, keys, 0, n-1, 0, seed, seed)

	f.maxLinkBits = c.maxLinkLength
	lengthWidth := lengthBitWidth(c.maxLinkLength)
	lenEnt := lengthEntriesBothSides(c.linkLenRaw, lengthWidth)
	maskEnt := maskEntries(c.mask)
	endpointEnt := flagEntries(c.endpoint)
	nodeCount := len(c.hashes)

	f.hashSeed = seed
	ok := buildAllDicts(&f.base, c.hashes, lenEnt, c.linkChunks, lengthWidth)
	f.mask = fuse.NewDict(len(maskEnt), 2)
	if !f.mask.Build(c.hashes, maskEnt) {
		ok = false
	}
	f.endpoint = fuse.NewDict(len(endpointEnt), 1)
	if !f.endpoint.Build(c.hashes, endpointEnt) {
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
		hashesGeneral(hashes, keys, 0, n-1, 0, seed, seed, &next)
		f.hashSeed = seed
		ok = buildAllDicts(&f.base, hashes, lenEnt, c.linkChunks, lengthWidth)
		if !f.mask.Build(hashes, maskEnt) {
			ok = false
		}
		if !f.endpoint.Build(hashes, endpointEnt) {
			ok = false
		}
	}

	f.populateHashCache(cfg.hashCacheSize)
	return f, retries, nil
}

func (f *generalFilter) maskAt(hash uint64) uint8 {
	var b [1]byte
	f.mask.Get(hash, b[:])
	return b[0]
}

func (f *generalFilter) endpointAt(hash uint64) byte {
	var b [1]byte
	f.endpoint.Get(hash, b[:])
	return b[0]
}

// Point reports set membership (spec §4.6, GENERAL pointQueryInternal).
func (f *generalFilter) Point(key []byte) bool {
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
		mask := f.maskAt(cur)
		if mask&(1<<uint(boolToInt(bit))) == 0 {
			return false
		}
		linkLen = f.extractLink(boolToInt(bit), cur, linkBuf)
		cur, seed = f.updateHash(cur, seed, bit, &hashID)
	}

	if pt < linkLen {
		return false
	}
	mask := f.maskAt(cur)
	if mask != 3 {
		return true
	}
	return f.endpointAt(cur) != 0
}

// Prefix reports whether any key has p as a prefix (spec §4.6,
// GENERAL prefixQueryInternal).
func (f *generalFilter) Prefix(p []byte) bool {
	keyLenBits := len(p) * 8
	linkBuf := make([]byte, bitsToBytes(f.maxLinkBits))
	cur, seed := f.hashSeed, f.hashSeed
	hashID := 0
	pt, linkLen := 0, 0

	for pos := 0; pos < keyLenBits; pos++ {
		bit := bitAt(p, pos)
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
		mask := f.maskAt(cur)
		if mask&(1<<uint(boolToInt(bit))) == 0 {
			return false
		}
		linkLen = f.extractLink(boolToInt(bit), cur, linkBuf)
		cur, seed = f.updateHash(cur, seed, bit, &hashID)
	}
	return true
}

// Range reports whether any key falls in the requested interval
// (spec §4.6, GENERAL rangeQueryInternal and its tail helpers).
func (f *generalFilter) Range(l []byte, includeL bool, r []byte, includeR bool) bool {
	switch compareBytes(l, r) {
	case 0:
		return includeL && includeR && f.Point(l)
	case 1:
		return false
	}
	return f.rangeQueryInternal(l, includeL, r, includeR)
}

func (f *generalFilter) rangeQueryInternal(left []byte, includeLeft bool, right []byte, includeRight bool) bool {
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

		mask := f.maskAt(cur)

		if leftBit != rightBit {
			if mask&1 != 0 && f.rangeQueryTail(left, pos, cur, seed, hashID, includeLeft, true, false) {
				return true
			}
			if mask&2 != 0 && f.rangeQueryTail(right, pos, cur, seed, hashID, includeRight, false, false) {
				return true
			}
			return false
		}

		if mask&(1<<uint(boolToInt(leftBit))) == 0 {
			return false
		}

		linkLen = f.extractLink(boolToInt(leftBit), cur, linkBuf)
		pt = 0
		cur, seed = f.updateHash(cur, seed, leftBit, &hashID)
		pos++
	}

	// left is a proper prefix of right.
	if includeLeft {
		mask := f.maskAt(cur)
		if mask != 3 {
			return true
		}
		if f.endpointAt(cur) != 0 {
			return true
		}
	}

	if pt == linkLen {
		return f.rangeQueryTail(right, pos, cur, seed, hashID, includeRight, false, false)
	}
	return f.rangeQueryRightLink(right, pos, pt, linkLen, linkBuf, cur, seed, hashID, includeRight)
}

func (f *generalFilter) rangeQueryLeftLink(left []byte, pos, pt, linkLen int, linkBuf []byte, cur, seed uint64, hashID int, includeLeft bool) bool {
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
			mask := f.maskAt(cur)
			if mask != 0 {
				return true
			}
			if includeLeft {
				return includeLeft
			}
		}
		return true
	}
	return f.rangeQueryTail(left, pos, cur, seed, hashID, includeLeft, true, true)
}

func (f *generalFilter) rangeQueryRightLink(right []byte, pos, pt, linkLen int, linkBuf []byte, cur, seed uint64, hashID int, includeRight bool) bool {
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
		if pt == linkLen && includeRight {
			mask := f.maskAt(cur)
			if mask != 3 {
				return true
			}
			return f.endpointAt(cur) != 0
		}
		return false
	}
	return f.rangeQueryTail(right, pos, cur, seed, hashID, includeRight, false, true)
}

// rangeQueryTail is the most involved of the three variants' tail
// walkers: at every node along the divergent side it must also weigh
// the mask and (where ambiguous) the endpoint flag, since a GENERAL
// node can itself be a completed key even while having children (spec
// §4.6, GENERAL rangeQueryTail).
func (f *generalFilter) rangeQueryTail(key []byte, pos int, cur, seed uint64, hashID int, includeTail, isLeft, canPick bool) bool {
	keyLenBits := len(key) * 8
	linkBuf := make([]byte, bitsToBytes(f.maxLinkBits))
	pt, linkLen := 0, 0

	for pos < keyLenBits {
		bit := bitAt(key, pos)
		if pt < linkLen {
			curBit := bitAt(linkBuf, pt)
			if isLeft {
				if !bit && curBit {
					return true
				}
				if bit && !curBit {
					return false
				}
			} else {
				if !curBit && bit {
					return true
				}
				if !bit && curBit {
					return false
				}
			}
			pt++
			if pt == linkLen {
				pt, linkLen = 0, 0
			}
			canPick = true
			pos++
			continue
		}

		mask := f.maskAt(cur)

		if canPick {
			if !isLeft {
				if mask != 3 {
					return true
				}
				if f.endpointAt(cur) != 0 {
					return true
				}
			}
			otherBit := boolToInt(!bit)
			if isLeft != bit && mask&(1<<uint(otherBit)) != 0 {
				return true
			}
		}

		if mask&(1<<uint(boolToInt(bit))) == 0 {
			return false
		}

		linkLen = f.extractLink(boolToInt(bit), cur, linkBuf)
		pt = 0
		cur, seed = f.updateHash(cur, seed, bit, &hashID)
		canPick = true
		pos++
	}

	if pt < linkLen {
		return isLeft
	}

	if isLeft {
		mask := f.maskAt(cur)
		if mask != 0 {
			return true
		}
		return includeTail && canPick
	}
	if !canPick {
		return false
	}
	mask := f.maskAt(cur)
	if mask != 3 {
		return includeTail
	}
	return f.endpointAt(cur) != 0
}

// Serialize encodes the GENERAL-specific tail after the shared
// envelope (spec §4.10): the mask dictionary, then the endpoint
// dictionary. No root mask byte: GENERAL has none.
func (f *generalFilter) Serialize() []byte {
	buf := make([]byte, 0, 64)
	buf = f.serializeCore(buf, VariantGeneral)
	buf = f.mask.Serialize(buf)
	buf = f.endpoint.Serialize(buf)
	return buf
}

func deserializeGeneral(buf []byte) (Filter, error) {
	b, rest, err := deserializeCore(buf, defaultConfig().hashCacheSize)
	if err != nil {
		return nil, err
	}
	mask, rest, err := fuse.DeserializeDict(rest)
	if err != nil {
		return nil, err
	}
	endpoint, rest, err := fuse.DeserializeDict(rest)
	if err != nil {
		return nil, err
	}
	_ = rest
	return &generalFilter{base: *b, mask: mask, endpoint: endpoint}, nil
}
