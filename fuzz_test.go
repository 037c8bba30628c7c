package osiris

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// FuzzBuildAndQuery mirrors the teacher's FuzzTableSubnets/FuzzFastSubnets
// pattern (seeded corpus, bounds-checked draw count, a reference built
// alongside the structure under test) applied to spec.md §8 S5: a large
// randomized key set, every inserted key must answer Point/Prefix/Range
// true, and every universal invariant (§8) that holds regardless of
// which keys happen to be present must hold for random absent queries
// too.
func FuzzBuildAndQuery(f *testing.F) {
	f.Add(uint64(12345), 50)
	f.Add(uint64(67890), 500)
	f.Add(uint64(54321), 2000)
	f.Add(uint64(1), 2)
	f.Add(uint64(0), 1000)

	f.Fuzz(func(t *testing.T, seed uint64, n int) {
		if n < 1 || n > 4000 {
			t.Skip("bounds")
		}

		prng := rand.New(rand.NewPCG(seed, 7))
		keys := randomSortedDistinctKeys(prng, n)

		filter, stats, err := Build(keys)
		require.NoError(t, err)
		require.Equal(t, len(keys), stats.Keys)

		// Universal invariants 1, 2, 5, 7 (spec §8): every inserted key
		// is its own point match, its own prefix match, and its own
		// singleton range match.
		for _, k := range keys {
			require.Truef(t, filter.Point(k), "Point(%x) = false, want true (inserted key)", k)
			require.Truef(t, filter.Prefix(k), "Prefix(%x) = false, want true (inserted key)", k)
			require.Equalf(t, filter.Point(k), filter.Range(k, true, k, true), "Range([%x,%x]) != Point(%x)", k, k, k)
		}

		// Invariant 6: an inverted interval never contains anything,
		// regardless of which keys are actually present.
		if len(keys) >= 2 {
			require.False(t, filter.Range(keys[len(keys)-1], true, keys[0], true))
		}

		// Invariant 7 again, now over random queries that are almost
		// certainly absent: range(q,true,q,true) must track point(q)
		// exactly even when q was never inserted, since Range's
		// l==r case dispatches straight to Point.
		for i := 0; i < 16; i++ {
			q := randomKey(prng, 1, 32)
			require.Equal(t, filter.Point(q), filter.Range(q, true, q, true))
		}
	})
}

func randomSortedDistinctKeys(r *rand.Rand, n int) [][]byte {
	seen := make(map[string]bool, n)
	keys := make([][]byte, 0, n)
	for len(keys) < n {
		k := randomKey(r, 1, 24)
		s := string(k)
		if seen[s] {
			continue
		}
		seen[s] = true
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return compareBytes(keys[i], keys[j]) < 0 })
	return keys
}

func randomKey(r *rand.Rand, minLen, maxLen int) []byte {
	n := minLen + r.IntN(maxLen-minLen+1)
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.IntN(256))
	}
	return b
}
