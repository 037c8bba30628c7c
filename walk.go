package osiris

import (
	"github.com/osirisfilter/osiris/internal/arena"
	"github.com/osirisfilter/osiris/internal/fuse"
	"github.com/osirisfilter/osiris/internal/rng"
)

// Trie walker and payload collector (spec §4.2–§4.8, C6). One
// recursive function per variant descends the implicit compressed
// binary trie over a sorted key range, emitting the node hash and the
// link payload for every edge it crosses. Each function has a matching
// "hashes only" twin used on peel-retry: a retry redraws the hash seed
// but the trie shape — and therefore every link and flag already
// collected — is unchanged, so only the hash array needs recomputing.

// rawLen pairs a node id with a not-yet-width-encoded link length; the
// length dictionaries' value width depends on the trie's maximum link
// length, which is only known once the walk finishes, so these are
// converted to fuse.Entry values after the fact.
type rawLen struct {
	id     int
	length int
}

// rawFlag pairs a node id with a single bit of side information
// (no-prefix leaf flag, general-variant endpoint flag).
type rawFlag struct {
	id    int
	value bool
}

// rawMask pairs a node id with the general variant's 2-bit child
// presence mask.
type rawMask struct {
	id    int
	value uint8
}

// collector accumulates everything a build needs to populate the
// dictionaries shared by every variant (spec §4.2 "Per-node payload").
type collector struct {
	hashes        []uint64
	linkLenRaw    [2][]rawLen
	linkChunks    [2][32][]fuse.Entry
	maxLinkLength int
	nextID        int
	arena         *arena.Arena
}

func newCollector(totalBits, threshold int) *collector {
	return &collector{arena: arena.New(totalBits, threshold)}
}

func (c *collector) recordHash(h uint64) int {
	id := c.nextID
	c.nextID++
	c.hashes = append(c.hashes, h)
	return id
}

// recordLink stores the link from id to its child across bit,
// spanning key[start:start+length] (both in bits), chunked per spec
// §4.7 into power-of-two pieces from bit 31 down to bit 0.
func (c *collector) recordLink(bit int, id int, key []byte, start, length int) {
	if length > c.maxLinkLength {
		c.maxLinkLength = length
	}
	c.linkLenRaw[bit] = append(c.linkLenRaw[bit], rawLen{id: id, length: length})

	pt := start
	for w := 31; w >= 0; w-- {
		width := 1 << uint(w)
		if length&width == 0 {
			continue
		}
		var value []byte
		if width < 8 {
			// Dictionary narrow storage masks to the low `width` bits,
			// so sub-byte chunks are packed as a plain integer rather
			// than staged through the arena's MSB-first byte layout.
			value = []byte{readBitsAsInt(key, pt, width)}
		} else {
			h := c.arena.Alloc(width)
			for i := 0; i < width; i++ {
				arena.Set(&h, i, bitAt(key, pt+i))
			}
			value = make([]byte, width/8)
			h.Bytes(value)
		}
		c.linkChunks[bit][w] = append(c.linkChunks[bit][w], fuse.Entry{Index: id, Value: value})
		pt += width
	}
}

// lengthBitWidth implements getSize: the number of bits (a multiple of
// 8, minimum 8) needed to store an integer up to maxLen.
func lengthBitWidth(maxLen int) int {
	bits := 8
	for (1 << uint(bits)) <= maxLen {
		bits += 8
	}
	return bits
}

// lengthEntriesBothSides converts both sides' raw link lengths to
// fuse.Entry values once the trie's maximum link length (and hence
// width) is known.
func lengthEntriesBothSides(raw [2][]rawLen, width int) [2][]fuse.Entry {
	return [2][]fuse.Entry{lengthEntries(raw[0], width), lengthEntries(raw[1], width)}
}

// lengthEntries converts raw (id, length) pairs into fuse.Entry values
// of width bits, little-endian, once the final width is known.
func lengthEntries(raw []rawLen, width int) []fuse.Entry {
	n := bitsToBytes(width)
	out := make([]fuse.Entry, len(raw))
	for i, r := range raw {
		buf := make([]byte, n)
		v := uint32(r.length)
		for j := 0; j < n; j++ {
			buf[j] = byte(v)
			v >>= 8
		}
		out[i] = fuse.Entry{Index: r.id, Value: buf}
	}
	return out
}

// flagEntries converts raw (id, bool) pairs into single-bit
// fuse.Entry values.
func flagEntries(raw []rawFlag) []fuse.Entry {
	out := make([]fuse.Entry, len(raw))
	for i, r := range raw {
		v := byte(0)
		if r.value {
			v = 1
		}
		out[i] = fuse.Entry{Index: r.id, Value: []byte{v}}
	}
	return out
}

// maskEntries converts raw (id, 2-bit mask) pairs into fuse.Entry
// values.
func maskEntries(raw []rawMask) []fuse.Entry {
	out := make([]fuse.Entry, len(raw))
	for i, r := range raw {
		out[i] = fuse.Entry{Index: r.id, Value: []byte{r.value}}
	}
	return out
}

// --- FIXED (spec §4.6 "Fixed"): every key has the same length. ---

func walkFixed(c *collector, keys [][]byte, l, r, pos int, curHash, seed uint64) {
	id := c.recordHash(curHash)
	if r < l || len(keys[l])*8 == pos {
		return
	}

	h1 := rng.Step(seed)
	h1 = rng.Step(h1)
	h2 := rng.Step(h1)
	childHash := [2]uint64{curHash ^ h1, curHash ^ h2}

	if l == r {
		length := len(keys[l]) * 8
		linkLength := length - pos - 1
		bit := boolToInt(bitAt(keys[l], pos))
		c.recordLink(bit, id, keys[l], pos+1, linkLength)
		walkFixed(c, keys, l+1, r, length, childHash[bit], h2)
		return
	}

	if bitAt(keys[l], pos) == bitAt(keys[r], pos) {
		nextPos := commonPrefix(keys[l], keys[r], pos)
		linkLength := nextPos - pos - 1
		bit := boolToInt(bitAt(keys[l], pos))
		c.recordLink(bit, id, keys[l], pos+1, linkLength)
		walkFixed(c, keys, l, r, nextPos, childHash[bit], h2)
		return
	}

	m := splitAt(keys, pos, l, r)

	nextPos0 := commonPrefix(keys[l], keys[m], pos)
	c.recordLink(0, id, keys[l], pos+1, nextPos0-pos-1)
	walkFixed(c, keys, l, m, nextPos0, childHash[0], h2)

	nextPos1 := commonPrefix(keys[m+1], keys[r], pos)
	c.recordLink(1, id, keys[m+1], pos+1, nextPos1-pos-1)
	walkFixed(c, keys, m+1, r, nextPos1, childHash[1], h2)
}

func hashesFixed(hashes []uint64, keys [][]byte, l, r, pos int, curHash, seed uint64, next *int) {
	id := *next
	*next++
	hashes[id] = curHash
	if r < l || len(keys[l])*8 == pos {
		return
	}

	h1 := rng.Step(seed)
	h1 = rng.Step(h1)
	h2 := rng.Step(h1)
	childHash := [2]uint64{curHash ^ h1, curHash ^ h2}

	if l == r {
		length := len(keys[l]) * 8
		bit := boolToInt(bitAt(keys[l], pos))
		hashesFixed(hashes, keys, l+1, r, length, childHash[bit], h2, next)
		return
	}
	if bitAt(keys[l], pos) == bitAt(keys[r], pos) {
		nextPos := commonPrefix(keys[l], keys[r], pos)
		bit := boolToInt(bitAt(keys[l], pos))
		hashesFixed(hashes, keys, l, r, nextPos, childHash[bit], h2, next)
		return
	}
	m := splitAt(keys, pos, l, r)
	nextPos0 := commonPrefix(keys[l], keys[m], pos)
	hashesFixed(hashes, keys, l, m, nextPos0, childHash[0], h2, next)
	nextPos1 := commonPrefix(keys[m+1], keys[r], pos)
	hashesFixed(hashes, keys, m+1, r, nextPos1, childHash[1], h2, next)
}

// --- NO_PREFIX (spec §4.6 "No-prefix"): varying lengths, prefix-free. ---

// collectorNP extends collector with the leaf flag (spec §4.8): one
// bit per node, false exactly at the empty node reached immediately
// past a completed key.
type collectorNP struct {
	collector
	leaf []rawFlag
}

func walkNoPrefix(c *collectorNP, keys [][]byte, l, r, pos int, curHash, seed uint64) {
	id := c.recordHash(curHash)

	h1 := rng.Step(seed)
	h1 = rng.Step(h1)
	h2 := rng.Step(h1)
	childHash := [2]uint64{curHash ^ h1, curHash ^ h2}

	for l <= r && len(keys[l])*8 == pos {
		l++
	}

	if r < l {
		c.leaf = append(c.leaf, rawFlag{id: id, value: false})
		return
	}
	c.leaf = append(c.leaf, rawFlag{id: id, value: true})

	if l == r {
		length := len(keys[l]) * 8
		linkLength := length - pos - 1
		bit := boolToInt(bitAt(keys[l], pos))
		c.recordLink(bit, id, keys[l], pos+1, linkLength)
		walkNoPrefix(c, keys, l+1, r, length, childHash[bit], h2)
		return
	}

	if bitAt(keys[l], pos) == bitAt(keys[r], pos) {
		nextPos := commonPrefix(keys[l], keys[r], pos)
		linkLength := nextPos - pos - 1
		bit := boolToInt(bitAt(keys[l], pos))
		c.recordLink(bit, id, keys[l], pos+1, linkLength)
		walkNoPrefix(c, keys, l, r, nextPos, childHash[bit], h2)
		return
	}

	m := splitAt(keys, pos, l, r)

	nextPos0 := commonPrefix(keys[l], keys[m], pos)
	c.recordLink(0, id, keys[l], pos+1, nextPos0-pos-1)
	walkNoPrefix(c, keys, l, m, nextPos0, childHash[0], h2)

	nextPos1 := commonPrefix(keys[m+1], keys[r], pos)
	c.recordLink(1, id, keys[m+1], pos+1, nextPos1-pos-1)
	walkNoPrefix(c, keys, m+1, r, nextPos1, childHash[1], h2)
}

func hashesNoPrefix(hashes []uint64, keys [][]byte, l, r, pos int, curHash, seed uint64, next *int) {
	id := *next
	*next++
	hashes[id] = curHash

	h1 := rng.Step(seed)
	h1 = rng.Step(h1)
	h2 := rng.Step(h1)
	childHash := [2]uint64{curHash ^ h1, curHash ^ h2}

	for l <= r && len(keys[l])*8 == pos {
		l++
	}
	if r < l {
		return
	}
	if l == r {
		length := len(keys[l]) * 8
		bit := boolToInt(bitAt(keys[l], pos))
		hashesNoPrefix(hashes, keys, l+1, r, length, childHash[bit], h2, next)
		return
	}
	if bitAt(keys[l], pos) == bitAt(keys[r], pos) {
		nextPos := commonPrefix(keys[l], keys[r], pos)
		bit := boolToInt(bitAt(keys[l], pos))
		hashesNoPrefix(hashes, keys, l, r, nextPos, childHash[bit], h2, next)
		return
	}
	m := splitAt(keys, pos, l, r)
	nextPos0 := commonPrefix(keys[l], keys[m], pos)
	hashesNoPrefix(hashes, keys, l, m, nextPos0, childHash[0], h2, next)
	nextPos1 := commonPrefix(keys[m+1], keys[r], pos)
	hashesNoPrefix(hashes, keys, m+1, r, nextPos1, childHash[1], h2, next)
}

// --- GENERAL (spec §4.6 "General"): some key is a proper prefix of another. ---

// collectorGeneral extends collector with the 2-bit child mask and the
// endpoint flag (spec §4.8): a node's mask records which children
// exist; the endpoint flag disambiguates a completed key from a split
// node only when both children are present.
type collectorGeneral struct {
	collector
	mask     []rawMask
	endpoint []rawFlag
}

func walkGeneral(c *collectorGeneral, keys [][]byte, l, r, pos int, curHash, seed uint64) {
	id := c.recordHash(curHash)

	h1 := rng.Step(seed)
	h1 = rng.Step(h1)
	h2 := rng.Step(h1)
	childHash := [2]uint64{curHash ^ h1, curHash ^ h2}

	l1 := l
	for l <= r && len(keys[l])*8 == pos {
		l++
	}
	endpoint := l1 < l

	if r < l {
		c.mask = append(c.mask, rawMask{id: id, value: 0})
		return
	}

	if l == r {
		length := len(keys[l]) * 8
		linkLength := length - pos - 1
		bit := boolToInt(bitAt(keys[l], pos))
		c.mask = append(c.mask, rawMask{id: id, value: 1 << uint(bit)})
		c.recordLink(bit, id, keys[l], pos+1, linkLength)
		walkGeneral(c, keys, l+1, r, length, childHash[bit], h2)
		return
	}

	if bitAt(keys[l], pos) == bitAt(keys[r], pos) {
		nextPos := commonPrefix(keys[l], keys[r], pos)
		linkLength := nextPos - pos - 1
		bit := boolToInt(bitAt(keys[l], pos))
		c.mask = append(c.mask, rawMask{id: id, value: 1 << uint(bit)})
		c.recordLink(bit, id, keys[l], pos+1, linkLength)
		walkGeneral(c, keys, l, r, nextPos, childHash[bit], h2)
		return
	}

	m := splitAt(keys, pos, l, r)
	c.mask = append(c.mask, rawMask{id: id, value: 3})
	c.endpoint = append(c.endpoint, rawFlag{id: id, value: endpoint})

	nextPos0 := commonPrefix(keys[l], keys[m], pos)
	c.recordLink(0, id, keys[l], pos+1, nextPos0-pos-1)
	walkGeneral(c, keys, l, m, nextPos0, childHash[0], h2)

	nextPos1 := commonPrefix(keys[m+1], keys[r], pos)
	c.recordLink(1, id, keys[m+1], pos+1, nextPos1-pos-1)
	walkGeneral(c, keys, m+1, r, nextPos1, childHash[1], h2)
}

func hashesGeneral(hashes []uint64, keys [][]byte, l, r, pos int, curHash, seed uint64, next *int) {
	id := *next
	*next++
	hashes[id] = curHash

	h1 := rng.Step(seed)
	h1 = rng.Step(h1)
	h2 := rng.Step(h1)
	childHash := [2]uint64{curHash ^ h1, curHash ^ h2}

	for l <= r && len(keys[l])*8 == pos {
		l++
	}
	if r < l {
		return
	}
	if l == r {
		length := len(keys[l]) * 8
		bit := boolToInt(bitAt(keys[l], pos))
		hashesGeneral(hashes, keys, l+1, r, length, childHash[bit], h2, next)
		return
	}
	if bitAt(keys[l], pos) == bitAt(keys[r], pos) {
		nextPos := commonPrefix(keys[l], keys[r], pos)
		bit := boolToInt(bitAt(keys[l], pos))
		hashesGeneral(hashes, keys, l, r, nextPos, childHash[bit], h2, next)
		return
	}
	m := splitAt(keys, pos, l, r)
	nextPos0 := commonPrefix(keys[l], keys[m], pos)
	hashesGeneral(hashes, keys, l, m, nextPos0, childHash[0], h2, next)
	nextPos1 := commonPrefix(keys[m+1], keys[r], pos)
	hashesGeneral(hashes, keys, m+1, r, nextPos1, childHash[1], h2, next)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
