package osiris

import (
	"github.com/osirisfilter/osiris/internal/fuse"
	"github.com/osirisfilter/osiris/internal/rng"
)

// base holds the state shared by all three trie variants (spec §4.2,
// §4.3, §4.9, §4.10): the per-side length and link-chunk dictionaries,
// the hash seed and its memoized shallow-node chain, and the helpers
// that walk a node's hash forward one trie edge at a time.
//
// base is never exposed directly; each variant embeds it and adds its
// own small tail (root mask, leaf/endpoint flags, ...).
type base struct {
	length    [2]*fuse.Dict
	links     [2][32]*fuse.Dict
	linksMask [2]uint32

	maxLinkBits int
	hashSeed    uint64
	hashCache   []uint64
}

// nextHash resolves one xorshift64 step, consulting the memoized chain
// for shallow ids per spec §4.3's hash-cache rule. Only queries ever
// call this; construction always steps rng directly, since the cache
// isn't populated until a build finishes (spec §9, "hash cache
// asymmetry").
func (b *base) nextHash(seed uint64, id int) uint64 {
	if id < len(b.hashCache) {
		return b.hashCache[id]
	}
	return rng.Step(seed)
}

// updateHash advances (cur, seed, hashID) across one trie edge
// labeled bit, per spec §4.3's child-hash recurrence: two scalar steps
// derive h1, a third derives h2, and the edge hash is folded in with
// XOR depending on which child bit was taken.
func (b *base) updateHash(cur, seed uint64, bit bool, hashID *int) (newCur, newSeed uint64) {
	h1 := b.nextHash(seed, *hashID)
	*hashID++
	h1 = b.nextHash(h1, *hashID)
	*hashID++
	h2 := b.nextHash(h1, *hashID)
	*hashID++
	if bit {
		cur ^= h2
	} else {
		cur ^= h1
	}
	return cur, h2
}

// populateHashCache fills the memoized shallow-hash chain from the
// final hash seed (spec §4.3), run once after a build succeeds or
// after deserializing.
func (b *base) populateHashCache(size int) {
	if size <= 0 {
		b.hashCache = nil
		return
	}
	cache := make([]uint64, size)
	cache[0] = rng.Step(b.hashSeed)
	for i := 1; i < size; i++ {
		cache[i] = rng.Step(cache[i-1])
	}
	b.hashCache = cache
}

// extractLink reconstructs the link stored for child bitSide of the
// node hashed to hash into out (which must be at least
// bitsToBytes(maxLinkBits) long) and returns the link's length in
// bits (spec §4.7, "Link extraction").
func (b *base) extractLink(bitSide int, hash uint64, out []byte) int {
	var lenBuf [4]byte
	n := b.length[bitSide].LenInBytes()
	b.length[bitSide].Get(hash, lenBuf[:n])
	linkLen := int(decodeLE(lenBuf[:n]))

	bitPos := 0
	for w := 31; w >= 0; w-- {
		width := 1 << uint(w)
		if linkLen&width == 0 {
			continue
		}
		d := b.links[bitSide][w]
		if width < 8 {
			var vb [1]byte
			d.Get(hash, vb[:1])
			writeBitsFromInt(out, bitPos, vb[0], width)
		} else {
			nb := width / 8
			chunk := make([]byte, nb)
			d.Get(hash, chunk)
			writeBitsFromBytes(out, bitPos, chunk, width)
		}
		bitPos += width
	}
	return linkLen
}

// rootMaskOf returns the 2-bit mask of which first-bit values occur in
// a sorted, non-empty key set, read off the first and last keys (spec
// §4.6): since the set is sorted by unsigned byte order, every key
// with first bit 0 sorts before every key with first bit 1.
func rootMaskOf(keys [][]byte) uint8 {
	var m uint8
	m |= 1 << uint(boolToInt(bitAt(keys[0], 0)))
	m |= 1 << uint(boolToInt(bitAt(keys[len(keys)-1], 0)))
	return m
}

// buildAllDicts (instantiations of C4 over C6's collected payload)
// (re)builds every length and link-chunk dictionary of b against
// hashes, creating each dictionary on its first call and reusing it
// (and linksMask) on retries. Returns false if any dictionary failed
// to peel, in which case the caller should redraw its hash seed and
// call this again with a freshly recomputed hashes slice (spec §4.8).
func buildAllDicts(b *base, hashes []uint64, lenEntries [2][]fuse.Entry, chunks [2][32][]fuse.Entry, lengthWidth int) bool {
	ok := true
	for i := 0; i < 2; i++ {
		for w := 0; w < 32; w++ {
			if len(chunks[i][w]) == 0 {
				continue
			}
			b.linksMask[i] |= 1 << uint(w)
			if b.links[i][w] == nil {
				b.links[i][w] = fuse.NewDict(len(chunks[i][w]), 1<<uint(w))
			}
			if !b.links[i][w].Build(hashes, chunks[i][w]) {
				ok = false
			}
		}
		if b.length[i] == nil {
			b.length[i] = fuse.NewDict(len(lenEntries[i]), lengthWidth)
		}
		if !b.length[i].Build(hashes, lenEntries[i]) {
			ok = false
		}
	}
	return ok
}

// serializeCore appends the envelope fields common to every variant
// (spec §4.10): the variant tag, the hash seed, the maximum link size,
// then each side's length dictionary and set of link-chunk
// dictionaries.
func (b *base) serializeCore(buf []byte, variant Variant) []byte {
	buf = append(buf, byte(variant))
	buf = appendU64(buf, b.hashSeed)
	buf = appendU32(buf, uint32(b.maxLinkBits))
	for i := 0; i < 2; i++ {
		buf = b.length[i].Serialize(buf)
		buf = appendU32(buf, b.linksMask[i])
		for w := 0; w < 32; w++ {
			if b.linksMask[i]&(1<<uint(w)) != 0 {
				buf = b.links[i][w].Serialize(buf)
			}
		}
	}
	return buf
}

// deserializeCore reverses serializeCore, populating b in place and
// returning the remainder of buf (the variant-specific tail).
func deserializeCore(buf []byte, cacheSize int) (*base, []byte, error) {
	if len(buf) < 12 {
		return nil, nil, ErrTruncated
	}
	b := &base{}
	b.hashSeed = decodeLE64(buf[:8])
	buf = buf[8:]
	b.populateHashCache(cacheSize)

	b.maxLinkBits = int(decodeLE(buf[:4]))
	buf = buf[4:]

	for i := 0; i < 2; i++ {
		d, rest, err := fuse.DeserializeDict(buf)
		if err != nil {
			return nil, nil, err
		}
		b.length[i] = d
		buf = rest

		if len(buf) < 4 {
			return nil, nil, ErrTruncated
		}
		mask := decodeLE(buf[:4])
		buf = buf[4:]
		b.linksMask[i] = mask

		for w := 0; w < 32; w++ {
			if mask&(1<<uint(w)) == 0 {
				continue
			}
			d, rest, err := fuse.DeserializeDict(buf)
			if err != nil {
				return nil, nil, err
			}
			b.links[i][w] = d
			buf = rest
		}
	}
	return b, buf, nil
}

func writeBitsFromInt(buf []byte, pos int, v uint8, n int) {
	for i := 0; i < n; i++ {
		bit := (v>>uint(n-1-i))&1 != 0
		setBufBit(buf, pos+i, bit)
	}
}

func writeBitsFromBytes(buf []byte, pos int, src []byte, n int) {
	for i := 0; i < n; i++ {
		bit := src[i>>3]&(1<<uint(7-(i&7))) != 0
		setBufBit(buf, pos+i, bit)
	}
}

func setBufBit(buf []byte, pos int, v bool) {
	if v {
		buf[pos>>3] |= 1 << uint(7-(pos&7))
	} else {
		buf[pos>>3] &^= 1 << uint(7-(pos&7))
	}
}

// readBitsAsInt packs the n bits of key starting at bit start into an
// unsigned integer, MSB-first (key bit `start` becomes the integer's
// most significant of the n bits). Used to build the payload for
// link-chunk dictionaries narrower than a byte.
func readBitsAsInt(key []byte, start, n int) uint8 {
	var v uint8
	for i := 0; i < n; i++ {
		v <<= 1
		if bitAt(key, start+i) {
			v |= 1
		}
	}
	return v
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendU64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func decodeLE(b []byte) uint32 {
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = (v << 8) | uint32(b[i])
	}
	return v
}

func decodeLE64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = (v << 8) | uint64(b[i])
	}
	return v
}
