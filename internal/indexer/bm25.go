package indexer

import "math"

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// keywordDoc is one document's term-frequency table in the BM25 index.
type keywordDoc struct {
	id     string
	terms  map[string]int
	length int
}

// keywordIndex is a hand-rolled BM25-style inverted index over tool text
// (name, description, category, keywords). No full-text search library
// appears anywhere in the corpus (alex's own BM25 path, visible
// only via indexer_test.go's mergeMatches fixture, rides on its sqlite
// build's FTS5 virtual table — unavailable here without cgo), so the scorer
// is implemented directly against the classic BM25 formula.
type keywordIndex struct {
	docs       map[string]*keywordDoc
	docFreq    map[string]int
	totalLen   int
	avgDocLen  float64
}

func newKeywordIndex() *keywordIndex {
	return &keywordIndex{
		docs:    make(map[string]*keywordDoc),
		docFreq: make(map[string]int),
	}
}

// Upsert indexes (or reindexes) one document's text under id.
func (k *keywordIndex) Upsert(id, text string) {
	k.Delete(id)
	terms := make(map[string]int)
	tokens := tokenize(text)
	for _, t := range tokens {
		terms[t]++
	}
	doc := &keywordDoc{id: id, terms: terms, length: len(tokens)}
	k.docs[id] = doc
	k.totalLen += doc.length
	for t := range terms {
		k.docFreq[t]++
	}
	k.recomputeAvg()
}

// Delete removes id from the index, if present.
func (k *keywordIndex) Delete(id string) {
	doc, ok := k.docs[id]
	if !ok {
		return
	}
	delete(k.docs, id)
	k.totalLen -= doc.length
	for t := range doc.terms {
		k.docFreq[t]--
		if k.docFreq[t] <= 0 {
			delete(k.docFreq, t)
		}
	}
	k.recomputeAvg()
}

func (k *keywordIndex) recomputeAvg() {
	if len(k.docs) == 0 {
		k.avgDocLen = 0
		return
	}
	k.avgDocLen = float64(k.totalLen) / float64(len(k.docs))
}

// keywordMatch is one scored document from a BM25 query.
type keywordMatch struct {
	ID    string
	Score float64
}

// Search scores every indexed document against query's tokens and returns the
// topK highest-scoring matches with a positive score, sorted descending.
func (k *keywordIndex) Search(query string, topK int) []keywordMatch {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 || len(k.docs) == 0 {
		return nil
	}
	n := float64(len(k.docs))

	scores := make(map[string]float64)
	for _, term := range queryTerms {
		df := k.docFreq[term]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		for id, doc := range k.docs {
			tf, ok := doc.terms[term]
			if !ok {
				continue
			}
			denom := float64(tf) + bm25K1*(1-bm25B+bm25B*float64(doc.length)/maxf(k.avgDocLen, 1))
			scores[id] += idf * (float64(tf) * (bm25K1 + 1) / denom)
		}
	}

	matches := make([]keywordMatch, 0, len(scores))
	for id, score := range scores {
		if score > 0 {
			matches = append(matches, keywordMatch{ID: id, Score: score})
		}
	}
	sortMatchesDesc(matches)
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func sortMatchesDesc(matches []keywordMatch) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && (matches[j].Score > matches[j-1].Score ||
			(matches[j].Score == matches[j-1].Score && matches[j].ID < matches[j-1].ID)); j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
