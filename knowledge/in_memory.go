package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/hupe1980/agentrun/core"
)

// DefaultLimit is used when Search is called with limit <= 0.
const DefaultLimit = 3

// InMemoryRetriever is a naive process‑local KnowledgeRetriever.
//
// Concurrency: protected by RWMutex.
// Search: linear scan scoring each document by the fraction of query terms
// it contains (case insensitive). Documents without any matching term are
// dropped. Suitable for tests, demos and small static corpora; use the
// chromem sub-package for semantic retrieval.
type InMemoryRetriever struct {
	mu   sync.RWMutex
	docs []core.Document
}

// NewInMemoryRetriever creates a retriever seeded with docs.
func NewInMemoryRetriever(docs ...core.Document) *InMemoryRetriever {
	r := &InMemoryRetriever{}
	_ = r.Add(context.Background(), docs...)
	return r
}

// Add appends documents, assigning sequential ids to documents without one.
func (r *InMemoryRetriever) Add(_ context.Context, docs ...core.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range docs {
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc_%d", len(r.docs))
		}
		r.docs = append(r.docs, d)
	}
	return nil
}

// Len returns the number of stored documents.
func (r *InMemoryRetriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

// Search returns up to limit documents ordered by descending score; ties
// keep insertion order. An empty query returns the first documents.
func (r *InMemoryRetriever) Search(ctx context.Context, query string, limit int) ([]core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	terms := tokenize(query)

	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]core.Document, 0, limit)
	for _, d := range r.docs {
		score := 1.0
		if len(terms) > 0 {
			score = overlap(terms, tokenize(d.Content))
		}
		if score == 0 {
			continue
		}
		d.Score = score
		results = append(results, d)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

func overlap(query, doc map[string]struct{}) float64 {
	hits := 0
	for t := range query {
		if _, ok := doc[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

var (
	_ core.KnowledgeRetriever = (*InMemoryRetriever)(nil)
	_ core.KnowledgeWriter    = (*InMemoryRetriever)(nil)
)
