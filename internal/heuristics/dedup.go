package heuristics

import (
	"sort"

	"github.com/allaspectsdev/tokenpress/internal/block"
)

// deduplicate removes repeated content. Must-keep blocks always survive and
// are never grouped; their fingerprints still suppress droppable copies of
// the same content. Among droppable duplicates the most recent occurrence
// wins. Canonical order is restored from the index recorded at
// canonicalization.
func deduplicate(blocks []*block.Block) []*block.Block {
	pinned := make(map[string]bool)
	for _, b := range blocks {
		if b.MustKeep {
			pinned[block.FingerprintHash(b.Fingerprint())] = true
		}
	}

	winners := make(map[string]*block.Block)
	order := make([]string, 0, len(blocks))

	deduped := make([]*block.Block, 0, len(blocks))

	for _, b := range blocks {
		if b.MustKeep {
			deduped = append(deduped, b)
			continue
		}

		hash := block.FingerprintHash(b.Fingerprint())
		if pinned[hash] {
			continue
		}

		current, seen := winners[hash]
		if !seen {
			winners[hash] = b
			order = append(order, hash)
			continue
		}
		if b.Timestamp.After(current.Timestamp) {
			winners[hash] = b
		}
	}

	for _, hash := range order {
		deduped = append(deduped, winners[hash])
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Index() < deduped[j].Index()
	})

	return deduped
}
