package fuse

import "sort"

// Peel computes a peeling order over the 4-uniform hypergraph induced
// by locs (spec §4.4, C3): a permutation (pos[k], id[k]) such that
// filling slots in reverse order guarantees each just-filled slot is
// isolated at the time it's filled. Returns ok=false if the graph does
// not fully peel (some key's hyperedge was never isolated), in which
// case the caller should retry construction with a new hash seed.
func Peel(locs []Location, totalPages uint64) (pos, id []uint32, ok bool) {
	n := len(locs)

	// Sort keys by first_bucket (a comparison sort; the degree and XOR
	// sums below do not depend on the order) so the counting pass
	// touches slots in roughly ascending order.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return locs[order[a]].FirstBucket < locs[order[b]].FirstBucket
	})

	degree := make([]uint32, totalPages)
	xorID := make([]uint32, totalPages)

	for _, k := range order {
		for _, u := range locs[k].Position {
			degree[u]++
			xorID[u] ^= uint32(k)
		}
	}

	stack := make([]uint64, 0, totalPages)
	for u := uint64(0); u < totalPages; u++ {
		if degree[u] == 1 {
			stack = append(stack, u)
		}
	}

	pos = make([]uint32, 0, n)
	id = make([]uint32, 0, n)

	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if degree[u] == 0 {
			continue
		}
		v := xorID[u]

		pos = append(pos, uint32(u))
		id = append(id, v)

		for _, w := range locs[v].Position {
			degree[w]--
			xorID[w] ^= v
			if degree[w] == 1 {
				stack = append(stack, w)
			}
		}
	}

	return pos, id, len(pos) == n
}
