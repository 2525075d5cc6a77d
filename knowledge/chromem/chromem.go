package chromem

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/hupe1980/agentrun/core"
)

// DefaultCollection is used when Options.Collection is empty.
const DefaultCollection = "knowledge"

// Metadata keys reserved by the retriever.
const (
	metaSource = "source"
)

// Options configures a Retriever.
type Options struct {
	// Collection names the chromem collection holding the corpus.
	Collection string
	// PersistPath enables file persistence when non-empty.
	PersistPath string
	// Compress gzips persisted files.
	Compress bool
	// Embed turns text into vectors. Defaults to OpenAI embeddings via
	// OPENAI_API_KEY (chromem.NewEmbeddingFuncDefault).
	Embed chromem.EmbeddingFunc
	// DefaultLimit applies when Search is called with limit <= 0.
	DefaultLimit int
}

// Retriever is a core.KnowledgeRetriever and core.KnowledgeWriter backed by
// an embedded chromem-go vector database.
type Retriever struct {
	db           *chromem.DB
	collection   *chromem.Collection
	defaultLimit int
	mu           sync.Mutex
}

// New creates a retriever, loading persisted vectors when PersistPath is set.
func New(optFns ...func(o *Options)) (*Retriever, error) {
	opts := Options{
		Collection:   DefaultCollection,
		DefaultLimit: 3,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Embed == nil {
		opts.Embed = chromem.NewEmbeddingFuncDefault()
	}

	var (
		db  *chromem.DB
		err error
	)
	if opts.PersistPath != "" {
		if err := os.MkdirAll(opts.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(opts.PersistPath, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(opts.Collection, nil, opts.Embed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %q: %w", opts.Collection, err)
	}

	return &Retriever{db: db, collection: col, defaultLimit: opts.DefaultLimit}, nil
}

// Count returns the number of stored documents.
func (r *Retriever) Count() int { return r.collection.Count() }

// Add embeds and stores documents. Documents without an id get a random one.
func (r *Retriever) Add(ctx context.Context, docs ...core.Document) error {
	if len(docs) == 0 {
		return nil
	}

	cdocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = core.NewID()
		}
		md := make(map[string]string, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			md[k] = v
		}
		if d.Source != "" {
			md[metaSource] = d.Source
		}
		cdocs[i] = chromem.Document{ID: id, Content: d.Content, Metadata: md}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.collection.AddDocuments(ctx, cdocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search returns the documents most similar to query, best first.
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]core.Document, error) {
	if limit <= 0 {
		limit = r.defaultLimit
	}

	count := r.collection.Count()
	if count == 0 || query == "" {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := r.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	docs := make([]core.Document, 0, len(results))
	for _, res := range results {
		md := make(map[string]string, len(res.Metadata))
		for k, v := range res.Metadata {
			if k == metaSource {
				continue
			}
			md[k] = v
		}
		docs = append(docs, core.Document{
			ID:       res.ID,
			Content:  res.Content,
			Source:   res.Metadata[metaSource],
			Score:    float64(res.Similarity),
			Metadata: md,
		})
	}
	return docs, nil
}

var (
	_ core.KnowledgeRetriever = (*Retriever)(nil)
	_ core.KnowledgeWriter    = (*Retriever)(nil)
)
