// Package osiris implements a static succinct membership and range
// filter over an immutable, lexicographically sorted set of byte
// string keys. The filter answers point(k), prefix(p) and
// range(l,r) queries probabilistically: a false answer is
// authoritative, a true answer may be a false positive with bounded
// probability.
//
// Keys are encoded as a compressed binary trie whose nodes are
// addressed by hash rather than by pointer; all per-node payloads are
// stored in binary fuse dictionaries (static XOR-based retrieval
// structures). Three trie variants — fixed-length, prefix-free and
// general — are selected automatically from the shape of the input
// key set; Build, the query state machines and the serialization
// envelope share one engine across all three.
package osiris

import (
	"errors"

	"github.com/osirisfilter/osiris/internal/fuse"
)

// Sentinel build-time errors (spec §7, "invalid input" / "construction
// failure").
var (
	// ErrEmptyKeySet is returned by Build when given no keys.
	ErrEmptyKeySet = errors.New("osiris: key set must not be empty")

	// ErrUnsorted is returned by Build when the input is not sorted in
	// strictly increasing lexicographic order, or contains a
	// duplicate.
	ErrUnsorted = errors.New("osiris: keys must be sorted and unique")

	// ErrPeelExhausted is returned by Build when the fuse peeling
	// retry budget is exhausted without a successful dictionary build.
	ErrPeelExhausted = errors.New("osiris: fuse dictionary construction did not converge")

	// ErrTruncated is returned by Deserialize when the buffer ends
	// before the envelope it describes.
	ErrTruncated = errors.New("osiris: truncated filter buffer")

	// ErrUnknownVariant is returned by Deserialize on an unrecognized
	// variant tag byte.
	ErrUnknownVariant = errors.New("osiris: unknown filter variant tag")
)

// Filter is an immutable, queryable succinct trie over a fixed key
// set. Values are created by Build or Deserialize and are safe for
// concurrent reads (spec §5): nothing about a Filter mutates after
// construction.
type Filter interface {
	// Point reports whether key may be a member of the built set.
	Point(key []byte) bool

	// Prefix reports whether any member of the built set has p as a
	// prefix.
	Prefix(p []byte) bool

	// Range reports whether the built set contains any member in the
	// interval [l, r] or (l, r), per includeL/includeR, under
	// unsigned lexicographic byte order.
	Range(l []byte, includeL bool, r []byte, includeR bool) bool

	// Serialize returns an owned, self-contained byte encoding of the
	// filter (spec §4.10). The first byte is the variant tag.
	Serialize() []byte
}

// BuildStats reports non-authoritative information about a Build
// call: the C++ source prints these for diagnostics
// (OSIRIS_DEBUG_PRINT); here they're returned instead of logged, since
// osiris carries no logging dependency (see SPEC_FULL.md).
type BuildStats struct {
	Variant Variant
	Keys    int
	Retries int
}

// Variant identifies which of the three trie encodings a Filter uses.
// The classifier (C5) picks one from the shape of the input key set;
// it never changes after Build.
type Variant uint8

const (
	// VariantFixed is used when every key has the same length.
	VariantFixed Variant = iota + 1
	// VariantNoPrefix is used when keys have varying lengths but no
	// key is a proper prefix of another.
	VariantNoPrefix
	// VariantGeneral is used when some key is a proper prefix of
	// another.
	VariantGeneral
)

func (v Variant) String() string {
	switch v {
	case VariantFixed:
		return "fixed"
	case VariantNoPrefix:
		return "no-prefix"
	case VariantGeneral:
		return "general"
	default:
		return "unknown"
	}
}

// Option configures a Build call. defaultConfig holds the spec §6
// defaults that options override.
type Option func(*buildConfig)

type buildConfig struct {
	hashCacheSize      int
	heapAllocThreshold int
	maxRetries         int
}

func defaultConfig() buildConfig {
	return buildConfig{
		hashCacheSize:      1024,
		heapAllocThreshold: 8,
		maxRetries:         32,
	}
}

// WithHashCacheSize overrides the number of memoized shallow-node hash
// transitions (spec §6, default 1024). A larger cache speeds up
// queries at shallow depth at the cost of memory.
func WithHashCacheSize(n int) Option {
	return func(c *buildConfig) {
		if n >= 0 {
			c.hashCacheSize = n
		}
	}
}

// WithHeapAllocThreshold overrides the inline-bitstring-handle
// threshold of the construction arena (spec §6, default 8 bits).
func WithHeapAllocThreshold(bits int) Option {
	return func(c *buildConfig) {
		if bits >= 0 {
			c.heapAllocThreshold = bits
		}
	}
}

// WithMaxRetries bounds how many times Build redraws a hash seed
// after a peel failure before giving up with ErrPeelExhausted (spec
// §7: "Implementers may choose a cap (e.g., 32)").
func WithMaxRetries(n int) Option {
	return func(c *buildConfig) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// Build constructs a Filter over keys, which must be sorted in
// strictly increasing lexicographic (unsigned byte) order with no
// duplicates; Build does not sort its input (spec §1 Non-goals).
func Build(keys [][]byte, opts ...Option) (Filter, BuildStats, error) {
	if len(keys) == 0 {
		return nil, BuildStats{}, ErrEmptyKeySet
	}
	for i := 1; i < len(keys); i++ {
		if compareBytes(keys[i-1], keys[i]) >= 0 {
			return nil, BuildStats{}, ErrUnsorted
		}
	}

	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	info := classify(keys)
	switch info.kind {
	case kindFixed:
		f, retries, err := buildFixed(keys, info, cfg)
		if err != nil {
			return nil, BuildStats{}, err
		}
		return f, BuildStats{Variant: VariantFixed, Keys: len(keys), Retries: retries}, nil
	case kindNoPrefix:
		f, retries, err := buildNoPrefix(keys, info, cfg)
		if err != nil {
			return nil, BuildStats{}, err
		}
		return f, BuildStats{Variant: VariantNoPrefix, Keys: len(keys), Retries: retries}, nil
	default:
		f, retries, err := buildGeneral(keys, info, cfg)
		if err != nil {
			return nil, BuildStats{}, err
		}
		return f, BuildStats{Variant: VariantGeneral, Keys: len(keys), Retries: retries}, nil
	}
}

// Deserialize restores a Filter from a buffer previously produced by
// Filter.Serialize. The buffer is copied into the Filter; Deserialize
// does not alias the caller's slice (spec Design Notes, §9).
func Deserialize(buf []byte) (Filter, error) {
	if len(buf) < 1 {
		return nil, ErrTruncated
	}
	var f Filter
	var err error
	switch buf[0] {
	case uint8(VariantFixed):
		f, err = deserializeFixed(buf[1:])
	case uint8(VariantNoPrefix):
		f, err = deserializeNoPrefix(buf[1:])
	case uint8(VariantGeneral):
		f, err = deserializeGeneral(buf[1:])
	default:
		return nil, ErrUnknownVariant
	}
	if errors.Is(err, fuse.ErrTruncated) {
		return nil, ErrTruncated
	}
	return f, err
}

// compareBytes is unsigned lexicographic byte comparison, exactly
// Go's built-in slice compare for []byte (bytes are already unsigned),
// kept local so call sites read as domain code rather than a stdlib
// import for a one-liner.
func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
