package packbuilder

import "sort"

// minCandidateSize excludes trivially small objects from delta search
// entirely (spec.md §4.2): too little payload for a delta to ever beat a
// plain copy.
const minCandidateSize = 50

// objectDetails sets no_try_delta on every record whose size exceeds the
// configured big-file threshold.
func objectDetails(t *table, bigFileThreshold int64) {
	for _, r := range t.records {
		r.noTryDelta = r.size > bigFileThreshold
	}
}

// buildCandidates returns indices into t eligible for delta search, sorted
// kind desc, name_hash desc, size desc, then index desc (newer wins) --
// the order spec.md §4.2 requires so the sliding window sees larger,
// locality-clustered objects first within a kind.
func buildCandidates(t *table) []int {
	var cand []int
	for i, r := range t.records {
		if r.size >= minCandidateSize && !r.noTryDelta {
			cand = append(cand, i)
		}
	}
	sort.SliceStable(cand, func(a, b int) bool {
		ra, rb := t.records[cand[a]], t.records[cand[b]]
		if ra.kind != rb.kind {
			return ra.kind > rb.kind
		}
		if ra.nameHash != rb.nameHash {
			return ra.nameHash > rb.nameHash
		}
		if ra.size != rb.size {
			return ra.size > rb.size
		}
		return cand[a] > cand[b]
	})
	return cand
}
