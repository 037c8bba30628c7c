package osiris

// Key-set classifier (spec §4.6, C5). Decides which of the three trie
// variants a sorted, unique key set needs, in a single linear scan.

type kind uint8

const (
	kindFixed kind = iota
	kindNoPrefix
	kindGeneral
)

type keySetInfo struct {
	kind       kind
	totalBytes int
	minLen     int
	maxLen     int
}

// classify scans keys (already sorted, unique, non-empty per Build's
// precondition check) and reports the trie variant plus the length
// statistics each variant's constructor needs.
func classify(keys [][]byte) keySetInfo {
	info := keySetInfo{minLen: len(keys[0]), maxLen: len(keys[0]), totalBytes: len(keys[0])}

	general := false
	for i := 1; i < len(keys); i++ {
		prev, cur := keys[i-1], keys[i]
		if len(cur) < info.minLen {
			info.minLen = len(cur)
		}
		if len(cur) > info.maxLen {
			info.maxLen = len(cur)
		}
		info.totalBytes += len(cur)

		if !general && len(prev) < len(cur) {
			isPrefix := true
			for j := range prev {
				if prev[j] != cur[j] {
					isPrefix = false
					break
				}
			}
			if isPrefix {
				general = true
			}
		}
	}

	switch {
	case general:
		info.kind = kindGeneral
	case info.minLen == info.maxLen:
		info.kind = kindFixed
	default:
		info.kind = kindNoPrefix
	}
	return info
}
