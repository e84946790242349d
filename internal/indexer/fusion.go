package indexer

import "sort"

// rrfK is the reciprocal-rank-fusion smoothing constant; 60 is the value
// popularized by Cormack et al.'s RRF paper and widely reused as a sane
// default with no tuning required.
const rrfK = 60

// SearchHit is one fused, deduplicated search result.
type SearchHit struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// fuseRanked combines a semantic (vector) ranking and a keyword (BM25)
// ranking via rank-based (reciprocal-rank) fusion, deduplicating by id.
// The hybrid search design leaves the fusion weights open; this kernel resolves them to
// w_sem=0.7, w_kw=0.3 following alex's hybrid-search analogue
// (internal/infra/memory's vector+BM25 blend).
func fuseRanked(semanticRanked, keywordRanked []string, wSem, wKw float64) map[string]float64 {
	scores := make(map[string]float64)
	for rank, id := range semanticRanked {
		scores[id] += wSem / float64(rrfK+rank+1)
	}
	for rank, id := range keywordRanked {
		scores[id] += wKw / float64(rrfK+rank+1)
	}
	return scores
}

// rankedIDsByScoreDesc returns ids sorted by scores[id] descending, breaking
// ties lexicographically by id for deterministic output
// "deterministic ranking; stable tie-break by id").
func rankedIDsByScoreDesc(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
