package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
	"github.com/skillkernel/kernel/internal/logging"
)

// Publisher is the minimal surface of *reactor.Reactor the Indexer needs;
// defined locally to keep this package independently testable.
type Publisher interface {
	Publish(topic string, payload any) uint64
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) uint64 { return 0 }

// Diff is the result of comparing a current and desired ToolRecord set,
// keyed by fully-qualified name and compared by content hash.
type Diff struct {
	Added          []domain.ToolRecord
	Updated        []domain.ToolRecord
	Deleted        []string
	UnchangedCount int
}

// SearchOptions tunes a search/search_hybrid call.
type SearchOptions struct {
	MinScore float64
	Keywords []string
}

// RebuildThreshold is the number of changed paths at or above which ApplyDiff
// performs a full rebuild instead of an incremental delta
// "Reindex policy").
const RebuildThreshold = 200

// ReindexResult reports what ApplyDiff actually did, including the
// fallback-to-full-rebuild path on delta failure.
type ReindexResult struct {
	Added, Updated, Deleted int
	Fallback                bool
	ToolsChanged            bool
}

// Indexer maintains the searchable tool catalog: a dense vector collection
// fused with a BM25 keyword index, diffed and applied incrementally by
// content hash, with a full-rebuild fallback on delta failure.
type Indexer struct {
	logger    logging.Logger
	publisher Publisher
	embedder  EmbeddingProvider

	mu       sync.RWMutex
	records  map[string]domain.ToolRecord
	keywords *keywordIndex
	vectors  *vectorStore

	wSem, wKw float64
}

// Option customizes Indexer construction.
type Option func(*Indexer)

// WithLogger sets the Indexer's diagnostic logger.
func WithLogger(l logging.Logger) Option { return func(ix *Indexer) { ix.logger = logging.OrNop(l) } }

// WithPublisher wires the Reactor the Indexer publishes index.updated to.
func WithPublisher(p Publisher) Option {
	return func(ix *Indexer) {
		if p != nil {
			ix.publisher = p
		}
	}
}

// WithEmbedder overrides the default LocalEmbedder (e.g. with OllamaEmbedder).
func WithEmbedder(e EmbeddingProvider) Option {
	return func(ix *Indexer) {
		if e != nil {
			ix.embedder = e
		}
	}
}

// WithFusionWeights overrides the default w_sem=0.7/w_kw=0.3 hybrid-search
// fusion weights.
func WithFusionWeights(wSem, wKw float64) Option {
	return func(ix *Indexer) { ix.wSem, ix.wKw = wSem, wKw }
}

// New constructs an Indexer backed by a vector store at storePath (empty
// string for in-memory only).
func New(storePath string, opts ...Option) (*Indexer, error) {
	vs, err := newVectorStore(storePath)
	if err != nil {
		return nil, err
	}
	ix := &Indexer{
		logger:    logging.NewComponentLogger("Indexer"),
		publisher: nopPublisher{},
		embedder:  NewLocalEmbedder(),
		records:   make(map[string]domain.ToolRecord),
		keywords:  newKeywordIndex(),
		vectors:   vs,
		wSem:      0.7,
		wKw:       0.3,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// DiffRecords computes the add/update/delete/unchanged partition between
// current and desired, keyed by FQName and compared by FileHash. Runs in
// O(N+M) using hashed sets.
func DiffRecords(current, desired []domain.ToolRecord) Diff {
	currentByID := make(map[string]domain.ToolRecord, len(current))
	for _, r := range current {
		currentByID[r.ID()] = r
	}
	desiredByID := make(map[string]domain.ToolRecord, len(desired))
	for _, r := range desired {
		desiredByID[r.ID()] = r
	}

	var d Diff
	for id, want := range desiredByID {
		have, existed := currentByID[id]
		switch {
		case !existed:
			d.Added = append(d.Added, want)
		case have.FileHash != want.FileHash:
			d.Updated = append(d.Updated, want)
		default:
			d.UnchangedCount++
		}
	}
	for id := range currentByID {
		if _, stillWanted := desiredByID[id]; !stillWanted {
			d.Deleted = append(d.Deleted, id)
		}
	}
	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].ID() < d.Added[j].ID() })
	sort.Slice(d.Updated, func(i, j int) bool { return d.Updated[i].ID() < d.Updated[j].ID() })
	sort.Strings(d.Deleted)
	return d
}

// ApplyDiff atomically applies d: adds, updates, and deletes are made under
// a single write lock so readers (Search, ListAll) never observe a partial
// rebuild — they see either the pre- or post-apply state. Emits
// index.updated on success.
func (ix *Indexer) ApplyDiff(ctx context.Context, d Diff) (ReindexResult, error) {
	changed := len(d.Added) + len(d.Updated) + len(d.Deleted)

	mergedDesired := func() []domain.ToolRecord {
		all := ix.snapshotRecords()
		for _, id := range d.Deleted {
			delete(all, id)
		}
		for _, r := range d.Added {
			all[r.ID()] = r
		}
		for _, r := range d.Updated {
			all[r.ID()] = r
		}
		records := make([]domain.ToolRecord, 0, len(all))
		for _, r := range all {
			records = append(records, r)
		}
		return records
	}

	var result ReindexResult
	var err error
	switch {
	case changed >= RebuildThreshold:
		// Large change sets are cheaper to apply as a full rebuild than as
		// many individual upserts.
		result, err = ix.fullRebuild(ctx, mergedDesired())
		if err != nil {
			return ReindexResult{}, err
		}
	default:
		result, err = ix.applyDelta(ctx, d)
		if err != nil {
			ix.logger.Warn("delta apply failed, falling back to full rebuild: %v", err)
			result, err = ix.fullRebuild(ctx, mergedDesired())
			if err != nil {
				return ReindexResult{}, fmt.Errorf("full rebuild after delta failure: %w", err)
			}
			result.Fallback = true
		}
	}

	result.ToolsChanged = changed > 0
	ix.publisher.Publish(domain.TopicIndexUpdated, domain.IndexUpdatedPayload{
		Added: result.Added, Updated: result.Updated, Deleted: result.Deleted,
		Fallback: result.Fallback, ToolsChanged: result.ToolsChanged,
	})
	return result, nil
}

// ReindexDocs re-derives the full-text/document side of the catalog for a
// changed docs root (the "docs-only filesystem events"
// resolution). Document ingestion itself (parsing, chunking) is out of
// scope; ReindexDocs only marks the catalog as freshened and
// announces it, so downstream search callers know a docs-root change
// landed without the tool dispatch map itself having moved.
func (ix *Indexer) ReindexDocs(ctx context.Context, docsRoot string) (ReindexResult, error) {
	if _, err := os.Stat(docsRoot); err != nil {
		return ReindexResult{}, fmt.Errorf("reindex docs %s: %w", docsRoot, err)
	}
	result := ReindexResult{ToolsChanged: false}
	ix.publisher.Publish(domain.TopicIndexUpdated, domain.IndexUpdatedPayload{
		ToolsChanged: false,
	})
	return result, nil
}

func (ix *Indexer) applyDelta(ctx context.Context, d Diff) (ReindexResult, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, id := range d.Deleted {
		delete(ix.records, id)
		ix.keywords.Delete(id)
		if err := ix.vectors.delete(ctx, id); err != nil {
			return ReindexResult{}, err
		}
	}
	for _, r := range append(append([]domain.ToolRecord{}, d.Added...), d.Updated...) {
		if err := ix.indexOneLocked(ctx, r); err != nil {
			return ReindexResult{}, err
		}
	}
	return ReindexResult{Added: len(d.Added), Updated: len(d.Updated), Deleted: len(d.Deleted)}, nil
}

// fullRebuild replaces the entire catalog from scratch. Embeddings for every
// record are requested in a single batched EmbeddingProvider.Embed call
// (rather than one record at a time) so a full rebuild costs one round trip
// to a remote embedder instead of N — the same batching discipline the
// teacher's Ollama embedder already exposes via its /api/embed batch path.
func (ix *Indexer) fullRebuild(ctx context.Context, records []domain.ToolRecord) (ReindexResult, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = searchableText(r)
	}
	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return ReindexResult{}, fmt.Errorf("batch embed rebuild: %w", err)
	}

	vs, err := newVectorStore("")
	if err != nil {
		return ReindexResult{}, err
	}
	keywords := newKeywordIndex()
	byID := make(map[string]domain.ToolRecord, len(records))
	for i, r := range records {
		if err := vs.upsert(ctx, r.ID(), vecs[i], texts[i], map[string]string{
			"skill": r.Skill, "category": r.Category,
		}); err != nil {
			return ReindexResult{}, fmt.Errorf("vector upsert %s: %w", r.ID(), err)
		}
		keywords.Upsert(r.ID(), texts[i])
		byID[r.ID()] = r
	}
	// Swap in only once every record is indexed, so a failed rebuild leaves
	// the previous catalog in place.
	ix.vectors, ix.keywords, ix.records = vs, keywords, byID
	return ReindexResult{Added: len(records)}, nil
}

// indexOneLocked embeds and indexes one record. Callers must hold ix.mu.
func (ix *Indexer) indexOneLocked(ctx context.Context, r domain.ToolRecord) error {
	text := searchableText(r)
	vecs, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed %s: %w", r.ID(), err)
	}
	if err := ix.vectors.upsert(ctx, r.ID(), vecs[0], text, map[string]string{
		"skill": r.Skill, "category": r.Category,
	}); err != nil {
		return fmt.Errorf("vector upsert %s: %w", r.ID(), err)
	}
	ix.keywords.Upsert(r.ID(), text)
	ix.records[r.ID()] = r
	return nil
}

func searchableText(r domain.ToolRecord) string {
	parts := []string{r.Name, r.Description, r.Category}
	parts = append(parts, r.Keywords...)
	return strings.Join(parts, " ")
}

func (ix *Indexer) snapshotRecords() map[string]domain.ToolRecord {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]domain.ToolRecord, len(ix.records))
	for k, v := range ix.records {
		out[k] = v
	}
	return out
}

// ListAll returns every indexed ToolRecord (used by the Sniffer to build
// side indices).
func (ix *Indexer) ListAll() []domain.ToolRecord {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]domain.ToolRecord, 0, len(ix.records))
	for _, r := range ix.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Search performs semantic+keyword fusion search with deterministic ranking
// and a stable id tie-break.
func (ix *Indexer) Search(ctx context.Context, query string, topK int, opts SearchOptions) ([]SearchHit, error) {
	return ix.SearchHybrid(ctx, query, topK, opts, nil)
}

// SearchHybrid combines dense similarity with the BM25 keyword index via
// rank-based (reciprocal-rank) fusion, applies opts.MinScore, and
// deduplicates by id.
func (ix *Indexer) SearchHybrid(ctx context.Context, query string, topK int, opts SearchOptions, keywords []string) ([]SearchHit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.records) == 0 || topK <= 0 {
		return nil, nil
	}

	queryText := query
	if len(keywords) > 0 {
		queryText = query + " " + strings.Join(keywords, " ")
	}

	candidatePool := topK * 4
	if candidatePool < 20 {
		candidatePool = 20
	}

	semVecs, err := ix.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	semanticRanked, err := ix.vectors.queryRanked(ctx, semVecs[0], candidatePool)
	if err != nil {
		return nil, err
	}

	var keywordRanked []string
	for _, m := range ix.keywords.Search(queryText, candidatePool) {
		keywordRanked = append(keywordRanked, m.ID)
	}

	scores := fuseRanked(semanticRanked, keywordRanked, ix.wSem, ix.wKw)
	ranked := rankedIDsByScoreDesc(scores)

	hits := make([]SearchHit, 0, topK)
	for _, id := range ranked {
		if scores[id] < opts.MinScore {
			continue
		}
		rec, ok := ix.records[id]
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{
			ID:    id,
			Score: scores[id],
			Metadata: map[string]any{
				"skill": rec.Skill, "name": rec.Name, "category": rec.Category,
			},
		})
		if len(hits) >= topK {
			break
		}
	}
	return hits, nil
}

// Neighbor is one weighted edge in a RelationshipGraph.
type Neighbor struct {
	ID     string
	Weight float64
}

// RelationshipGraph maps a tool id to its (already top-N-limited) neighbor
// list, built by the Router (internal/router/relationship.go).
type RelationshipGraph map[string][]Neighbor

// ApplyRelationshipRerank boosts the neighbors of hits' top rerankTopN
// entries by boostScale*edgeWeight and re-sorts, following the
// "apply_relationship_rerank" note. It never introduces ids absent from
// hits; it only reorders the given list.
func ApplyRelationshipRerank(hits []SearchHit, graph RelationshipGraph, rerankTopN int, boostScale float64) []SearchHit {
	if len(hits) == 0 || len(graph) == 0 || rerankTopN <= 0 {
		return hits
	}
	boosted := make([]SearchHit, len(hits))
	copy(boosted, hits)
	index := make(map[string]int, len(boosted))
	for i, h := range boosted {
		index[h.ID] = i
	}

	limit := rerankTopN
	if limit > len(boosted) {
		limit = len(boosted)
	}
	for i := 0; i < limit; i++ {
		for _, nb := range graph[boosted[i].ID] {
			j, ok := index[nb.ID]
			if !ok {
				continue
			}
			boosted[j].Score += boostScale * nb.Weight
		}
	}

	sort.SliceStable(boosted, func(i, j int) bool {
		if boosted[i].Score != boosted[j].Score {
			return boosted[i].Score > boosted[j].Score
		}
		return boosted[i].ID < boosted[j].ID
	})
	return boosted
}

// recordsSidecarPath is where Persist/Load keep the ToolRecord set itself;
// the chromem export at path only carries embeddings, content and metadata,
// not the full record (file hash, file path, parameters). The pair together
// is a content-addressed snapshot of the catalog — format is internal
// and out of scope, only restart-stable identity (by hash and id) matters.
func recordsSidecarPath(path string) string { return path + ".records.json" }

// Persist stores a content-addressed snapshot of the tool catalog at path.
func (ix *Indexer) Persist(_ context.Context, path string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.vectors.persist(path); err != nil {
		return err
	}
	records := make([]domain.ToolRecord, 0, len(ix.records))
	for _, r := range ix.records {
		records = append(records, r)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal snapshot records: %w", err)
	}
	if err := os.WriteFile(recordsSidecarPath(path), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot records: %w", err)
	}
	return nil
}

// Load restores a previously persisted snapshot from path: the vector store
// via chromem import, and the record set (and, derived from it, the keyword
// index) from the JSON sidecar.
func (ix *Indexer) Load(_ context.Context, path string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.vectors.reload(path); err != nil {
		return fmt.Errorf("reload vector store: %w", err)
	}
	data, err := os.ReadFile(recordsSidecarPath(path))
	if err != nil {
		return fmt.Errorf("read snapshot records: %w", err)
	}
	var records []domain.ToolRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("unmarshal snapshot records: %w", err)
	}
	ix.records = make(map[string]domain.ToolRecord, len(records))
	ix.keywords = newKeywordIndex()
	for _, r := range records {
		ix.records[r.ID()] = r
		ix.keywords.Upsert(r.ID(), searchableText(r))
	}
	return nil
}
