// Package indexer maintains the searchable catalog of tools: a dense vector
// collection fused with a BM25-style keyword index, diffed and reindexed
// incrementally by content hash.
package indexer

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// EmbeddingProvider generates a dense embedding for a piece of text. This
// mirrors alex's memory-engine embedding abstraction
// (internal/infra/memory.EmbeddingProvider) so a real model-backed embedder
// can be swapped in without touching the Indexer.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// embeddingDim is the dimensionality of LocalEmbedder's hashed bag-of-words
// vectors. The kernel has no inference client of its own (the LLM/embedding
// backend is out of scope); LocalEmbedder gives it a
// deterministic, dependency-free default that still supports real nearest-
// neighbor search over tool descriptions.
const embeddingDim = 256

// LocalEmbedder is a deterministic, offline EmbeddingProvider: each token is
// hashed into a dimension and accumulated, then the vector is L2-normalized.
// It requires no network access and no model weights, at the cost of not
// capturing real semantic similarity beyond shared vocabulary.
type LocalEmbedder struct{}

// NewLocalEmbedder constructs the default offline embedder.
func NewLocalEmbedder() *LocalEmbedder { return &LocalEmbedder{} }

// Embed implements EmbeddingProvider.
func (LocalEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashEmbed(text)
	}
	return out, nil
}

func hashEmbed(text string) []float32 {
	vec := make([]float32, embeddingDim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		idx := h.Sum32() % embeddingDim
		vec[idx]++
	}
	normalize(vec)
	return vec
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] /= norm
	}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// cosineSimilarity returns the cosine similarity of two equal-length vectors,
// or 0 if either is the zero vector.
func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
