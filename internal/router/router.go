// Package router ranks the loaded tool set against a free-text task
//: hybrid search, clipped scoring, an optional relationship
// rerank and sniffer-score merge, and a "core" always-included prepend,
// clipped to a maximum result count with a fully deterministic tie-break.
package router

import (
	"context"
	"sort"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
	"github.com/skillkernel/kernel/internal/indexer"
	"github.com/skillkernel/kernel/internal/sniffer"
)

// coreScore is the score every forced-include "core" tool gets, whether or
// not the search also returned it (its search score is not used), so it
// sorts ahead of anything below 1.0.
const coreScore = 1.0

// Indexer is the minimal *indexer.Indexer surface the Router needs.
type Indexer interface {
	SearchHybrid(ctx context.Context, query string, topK int, opts indexer.SearchOptions, keywords []string) ([]indexer.SearchHit, error)
	ListAll() []domain.ToolRecord
}

// Sniffer is the minimal *sniffer.Sniffer surface the Router needs.
type Sniffer interface {
	SniffWithScores(cwd string) []sniffer.Scored
}

// Router ranks tool names against a task string.
type Router struct {
	idx   Indexer
	graph indexer.RelationshipGraph
	snf   Sniffer
}

// New constructs a Router over idx. SetRelationshipGraph/SetSniffer may be
// called later (both are rebuilt on every reindex).
func New(idx Indexer) *Router {
	return &Router{idx: idx}
}

// SetRelationshipGraph installs the current relationship graph, or clears
// it with nil. Safe to call from the reindex path; the Router holds no
// other mutable state.
func (r *Router) SetRelationshipGraph(graph indexer.RelationshipGraph) {
	r.graph = graph
}

// SetSniffer installs the Sniffer whose declarative, no-LLM skill matches
// are merged into every Route call's candidate scores when cwd is
// non-empty. Pass nil to disable the merge.
func (r *Router) SetSniffer(snf Sniffer) {
	r.snf = snf
}

// Hit is one ranked, fully-qualified tool name.
type Hit struct {
	FQName string
	Score  float64
}

// Route ranks task against the indexer's tool catalog, merges in the
// Sniffer's declarative matches for cwd (if a Sniffer is installed and cwd
// is non-empty — each matching skill's tools take the sniffer's score,
// combined with any hybrid-search score for the same tool by keeping the
// larger of the two), always includes core (deduplicated against the
// ranked results), and returns at most topK hits ordered by the router's
// tie-break: higher score first, then shorter name, then lexicographic.
func (r *Router) Route(ctx context.Context, task string, core []string, topK int, cwd string) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	candidatePool := topK
	if candidatePool < len(core)+topK {
		candidatePool = len(core) + topK
	}

	searchHits, err := r.idx.SearchHybrid(ctx, task, candidatePool, indexer.SearchOptions{}, nil)
	if err != nil {
		return nil, err
	}

	ranked := make([]indexer.SearchHit, len(searchHits))
	copy(ranked, searchHits)
	if r.graph != nil {
		ranked = indexer.ApplyRelationshipRerank(ranked, r.graph, RelationshipRerankTopN, RelationshipRerankBoost)
	}

	scores := make(map[string]float64, len(ranked))
	for _, h := range ranked {
		scores[h.ID] = clip01(h.Score)
	}
	for fq, score := range r.sniffScores(cwd) {
		if score > scores[fq] {
			scores[fq] = score
		}
	}

	hits := make([]Hit, 0, len(scores)+len(core))
	seen := make(map[string]bool, len(scores)+len(core))
	for _, name := range core {
		if seen[name] {
			continue
		}
		seen[name] = true
		hits = append(hits, Hit{FQName: name, Score: coreScore})
	}
	for fq, score := range scores {
		if seen[fq] {
			continue
		}
		seen[fq] = true
		hits = append(hits, Hit{FQName: fq, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if len(hits[i].FQName) != len(hits[j].FQName) {
			return len(hits[i].FQName) < len(hits[j].FQName)
		}
		return hits[i].FQName < hits[j].FQName
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// sniffScores expands the Sniffer's per-skill matches for cwd into
// per-tool scores, one entry per fully-qualified tool name owned by a
// matching skill.
func (r *Router) sniffScores(cwd string) map[string]float64 {
	if r.snf == nil || cwd == "" {
		return nil
	}
	matches := r.snf.SniffWithScores(cwd)
	if len(matches) == 0 {
		return nil
	}
	bySkill := make(map[string]float64, len(matches))
	for _, m := range matches {
		bySkill[m.Skill] = m.Score
	}
	out := make(map[string]float64)
	for _, rec := range r.idx.ListAll() {
		if score, ok := bySkill[rec.Skill]; ok {
			out[rec.FQName] = score
		}
	}
	return out
}

func clip01(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
