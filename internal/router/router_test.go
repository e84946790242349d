package router

import (
	"context"
	"testing"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
	"github.com/skillkernel/kernel/internal/indexer"
	"github.com/skillkernel/kernel/internal/sniffer"
)

type stubIndexer struct {
	hits    []indexer.SearchHit
	records []domain.ToolRecord
}

func (s *stubIndexer) SearchHybrid(ctx context.Context, query string, topK int, opts indexer.SearchOptions, keywords []string) ([]indexer.SearchHit, error) {
	if topK < len(s.hits) {
		return s.hits[:topK], nil
	}
	return s.hits, nil
}

func (s *stubIndexer) ListAll() []domain.ToolRecord {
	return s.records
}

type stubSniffer struct {
	scored []sniffer.Scored
}

func (s *stubSniffer) SniffWithScores(cwd string) []sniffer.Scored {
	if cwd == "" {
		return nil
	}
	return s.scored
}

func TestRoutePrependsCoreTools(t *testing.T) {
	idx := &stubIndexer{hits: []indexer.SearchHit{
		{ID: "weather.forecast", Score: 0.02},
	}}
	r := New(idx)

	hits, err := r.Route(context.Background(), "what's the weather", []string{"core.ping"}, 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].FQName != "core.ping" {
		t.Fatalf("expected core tool first, got %+v", hits)
	}
}

func TestRouteDeduplicatesCoreAgainstSearchResults(t *testing.T) {
	idx := &stubIndexer{hits: []indexer.SearchHit{
		{ID: "core.ping", Score: 0.05},
		{ID: "weather.forecast", Score: 0.02},
	}}
	r := New(idx)

	hits, err := r.Route(context.Background(), "ping", []string{"core.ping"}, 5, "")
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, h := range hits {
		if h.FQName == "core.ping" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected core.ping exactly once, got %d occurrences in %+v", count, hits)
	}
}

func TestRouteClipsToTopK(t *testing.T) {
	idx := &stubIndexer{hits: []indexer.SearchHit{
		{ID: "a.one", Score: 0.9},
		{ID: "b.two", Score: 0.8},
		{ID: "c.three", Score: 0.7},
	}}
	r := New(idx)

	hits, err := r.Route(context.Background(), "task", nil, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d: %+v", len(hits), hits)
	}
}

func TestRouteTieBreaksByShorterThenLexicographicName(t *testing.T) {
	idx := &stubIndexer{hits: []indexer.SearchHit{
		{ID: "bbb.tool", Score: 0.5},
		{ID: "aa.tool", Score: 0.5},
		{ID: "a.tool", Score: 0.5},
	}}
	r := New(idx)

	hits, err := r.Route(context.Background(), "task", nil, 3, "")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.tool", "aa.tool", "bbb.tool"}
	for i, w := range want {
		if hits[i].FQName != w {
			t.Fatalf("position %d: got %s, want %s (full: %+v)", i, hits[i].FQName, w, hits)
		}
	}
}

func TestRouteAppliesRelationshipRerank(t *testing.T) {
	idx := &stubIndexer{hits: []indexer.SearchHit{
		{ID: "a.top", Score: 0.09},
		{ID: "b.related", Score: 0.01},
		{ID: "c.unrelated", Score: 0.011},
	}}
	r := New(idx)
	r.SetRelationshipGraph(indexer.RelationshipGraph{
		"a.top": {{ID: "b.related", Weight: 1.0}},
	})

	hits, err := r.Route(context.Background(), "task", nil, 3, "")
	if err != nil {
		t.Fatal(err)
	}
	// b.related should be boosted above c.unrelated despite its lower base score.
	var posB, posC int
	for i, h := range hits {
		if h.FQName == "b.related" {
			posB = i
		}
		if h.FQName == "c.unrelated" {
			posC = i
		}
	}
	if posB >= posC {
		t.Errorf("expected b.related (boosted) to rank above c.unrelated, got %+v", hits)
	}
}

func TestRouteMergesSnifferScoresForCwd(t *testing.T) {
	idx := &stubIndexer{
		hits: []indexer.SearchHit{
			{ID: "weather.forecast", Score: 0.02},
		},
		records: []domain.ToolRecord{
			{ToolCommand: domain.ToolCommand{FQName: "git.status", Skill: "git"}},
			{ToolCommand: domain.ToolCommand{FQName: "git.diff", Skill: "git"}},
		},
	}
	r := New(idx)
	r.SetSniffer(&stubSniffer{scored: []sniffer.Scored{{Skill: "git", Score: 1.0}}})

	hits, err := r.Route(context.Background(), "what's the weather", nil, 3, "/repo")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].Score != 1.0 {
		t.Fatalf("expected a sniffer-matched git tool to rank first, got %+v", hits)
	}
	if hits[0].FQName != "git.diff" && hits[0].FQName != "git.status" {
		t.Fatalf("expected a git tool first, got %+v", hits)
	}

	// An empty cwd must not consult the Sniffer at all.
	hitsNoCwd, err := r.Route(context.Background(), "what's the weather", nil, 3, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hitsNoCwd {
		if h.FQName == "git.status" || h.FQName == "git.diff" {
			t.Fatalf("expected no sniffer merge without a cwd, got %+v", hitsNoCwd)
		}
	}
}
