package core

import "context"

// Document is one retrieved knowledge item with its source and relevance score.
type Document struct {
	ID       string            `json:"id,omitempty" yaml:"id,omitempty"`
	Content  string            `json:"content" yaml:"content"`
	Source   string            `json:"source,omitempty" yaml:"source,omitempty"`
	Score    float64           `json:"score,omitempty" yaml:"score,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// KnowledgeRetriever performs semantic search over a knowledge corpus and
// returns documents ordered by relevance, best first. A limit <= 0 lets the
// implementation pick its default.
type KnowledgeRetriever interface {
	Search(ctx context.Context, query string, limit int) ([]Document, error)
}

// KnowledgeWriter is implemented by retrievers whose corpus can grow at run time.
type KnowledgeWriter interface {
	Add(ctx context.Context, docs ...Document) error
}
