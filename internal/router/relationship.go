package router

import (
	"sort"
	"strings"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
	"github.com/skillkernel/kernel/internal/indexer"
)

// Relationship graph parameters, grounded on
// original_source/packages/python/core/src/omni/core/router/skill_relationships.py.
const (
	relatedTopK   = 5
	minOverlap    = 0.1
	sameSkillEdge = 0.35
	sharedRefEdge = 0.25

	// RelationshipRerankBoost and RelationshipRerankTopN feed
	// indexer.ApplyRelationshipRerank.
	RelationshipRerankBoost = 0.06
	RelationshipRerankTopN  = 3
)

// BuildRelationshipGraph builds a tool_id -> top-K weighted neighbors graph
// from the indexer's full record set: keyword-Jaccard overlap, same-skill
// membership, and shared-reference overlap each contribute an edge weight,
// and the strongest of the three wins per pair (skill_relationships.py's
// "w = max(w, ...)" merge, not a sum).
func BuildRelationshipGraph(records []domain.ToolRecord) indexer.RelationshipGraph {
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, 0, len(records))
	keywordSets := make(map[string]map[string]bool, len(records))
	skillOf := make(map[string]string, len(records))
	refsOf := make(map[string]map[string]bool, len(records))

	for _, r := range records {
		id := r.ID()
		ids = append(ids, id)
		keywordSets[id] = toSet(r.Keywords)
		skillOf[id] = r.Skill
		refsOf[id] = toSet(referencedDocs(r))
	}

	weights := make(map[string]map[string]float64, len(ids))
	for _, id := range ids {
		weights[id] = make(map[string]float64)
	}

	for i, a := range ids {
		for j, b := range ids {
			if i == j {
				continue
			}
			w := 0.0
			if sim := jaccard(keywordSets[a], keywordSets[b]); sim >= minOverlap {
				w = maxf(w, sim)
			}
			if skillOf[a] != "" && skillOf[a] == skillOf[b] {
				w = maxf(w, sameSkillEdge)
			}
			if overlaps(refsOf[a], refsOf[b]) {
				w = maxf(w, sharedRefEdge)
			}
			if w > 0 {
				weights[a][b] = w
			}
		}
	}

	graph := make(indexer.RelationshipGraph, len(ids))
	for _, id := range ids {
		neighbors := make([]indexer.Neighbor, 0, len(weights[id]))
		for nid, w := range weights[id] {
			neighbors = append(neighbors, indexer.Neighbor{ID: nid, Weight: w})
		}
		sort.Slice(neighbors, func(i, j int) bool {
			if neighbors[i].Weight != neighbors[j].Weight {
				return neighbors[i].Weight > neighbors[j].Weight
			}
			return neighbors[i].ID < neighbors[j].ID
		})
		if len(neighbors) > relatedTopK {
			neighbors = neighbors[:relatedTopK]
		}
		graph[id] = neighbors
	}
	return graph
}

// referencedDocs is a placeholder for a ToolRecord's documented references
// (shared-reference edge), until a records field carries them explicitly;
// category doubles as a coarse reference grouping in the meantime.
func referencedDocs(r domain.ToolRecord) []string {
	if r.Category == "" {
		return nil
	}
	return []string{r.Category}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		it = strings.ToLower(strings.TrimSpace(it))
		if it != "" {
			set[it] = true
		}
	}
	return set
}

func overlaps(a, b map[string]bool) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
