package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
)

const collectionName = "tools"

// vectorStore wraps a chromem-go collection, giving the Indexer a dense
// nearest-neighbor search over pre-computed embeddings plus disk persistence
// for the tool catalog.
type vectorStore struct {
	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
}

// passthroughEmbeddingFunc satisfies chromem's EmbeddingFunc contract without
// ever being invoked: every Document/Query call below supplies its embedding
// explicitly, since the Indexer owns embedding generation via
// EmbeddingProvider.
func passthroughEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("indexer: embeddings must be supplied explicitly, chromem embedding func should not be invoked")
}

func newVectorStore(path string) (*vectorStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
	}
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	coll, err := db.GetOrCreateCollection(collectionName, nil, passthroughEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("create tools collection: %w", err)
	}
	return &vectorStore{db: db, collection: coll}, nil
}

// upsert adds or replaces id's document. chromem-go's collection is an
// append/replace-by-ID store at the document level, but AddDocument is not
// guaranteed idempotent on a second call for the same ID across versions, so
// upsert explicitly deletes any prior document first (a delete of a missing
// ID is a no-op).
func (s *vectorStore) upsert(ctx context.Context, id string, embedding []float32, content string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.collection.Delete(ctx, nil, nil, id)
	return s.collection.AddDocument(ctx, chromem.Document{
		ID:        id,
		Embedding: embedding,
		Content:   content,
		Metadata:  metadata,
	})
}

func (s *vectorStore) delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection.Delete(ctx, nil, nil, id)
}

func (s *vectorStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection.Count()
}

// queryRanked returns the topK nearest ids to embedding, best first.
func (s *vectorStore) queryRanked(ctx context.Context, embedding []float32, topK int) ([]string, error) {
	s.mu.Lock()
	n := s.collection.Count()
	s.mu.Unlock()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}
	if topK <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	results, err := s.collection.QueryEmbedding(ctx, embedding, topK, nil, nil)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, nil
}

// persist exports the vector store to path, whatever path the store was
// constructed with (an in-memory store is exported too).
func (s *vectorStore) persist(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.ExportToFile(path, false, "")
}

func (s *vectorStore) reload(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.ImportFromFile(path, ""); err != nil {
		return err
	}
	coll, err := s.db.GetOrCreateCollection(collectionName, nil, passthroughEmbeddingFunc)
	if err != nil {
		return err
	}
	s.collection = coll
	return nil
}
