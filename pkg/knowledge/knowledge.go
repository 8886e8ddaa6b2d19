package knowledge

import (
	"context"
	"fmt"
	"io"
	"sort"
)

// Chunk is a contiguous slice of an ingested document, the unit of retrieval
// and citation.
type Chunk struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Source   string            `json:"source,omitempty"` // origin label, e.g. file name or provider
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float32           `json:"score,omitempty"` // Similarity score
}

// Embedder is the interface for generating embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Fitter is implemented by embedders that must see the corpus before they can
// embed anything (e.g. TF-IDF).
type Fitter interface {
	Fit(corpus []string) error
}

// VectorStore is the interface for storing and retrieving vectors.
type VectorStore interface {
	// Upsert inserts or updates chunks and their vectors.
	Upsert(ctx context.Context, vectors [][]float32, chunks []Chunk) error
	// Search searches for similar chunks using a query vector.
	Search(ctx context.Context, query []float32, limit int) ([]Chunk, error)
}

// Dropper is implemented by stores that can discard everything they hold.
type Dropper interface {
	Drop(ctx context.Context) error
}

// KeywordIndex is a lexical index searched alongside the vector store.
type KeywordIndex interface {
	Index(ctx context.Context, chunks []Chunk) error
	Search(ctx context.Context, query string, limit int) ([]Chunk, error)
	Close() error
}

// KnowledgeBase combines an Embedder, a VectorStore and an optional KeywordIndex.
type KnowledgeBase struct {
	Embedder    Embedder
	VectorStore VectorStore
	Keywords    KeywordIndex
}

// Option configures a KnowledgeBase.
type Option func(*KnowledgeBase)

// WithKeywordIndex enables hybrid retrieval.
func WithKeywordIndex(idx KeywordIndex) Option {
	return func(kb *KnowledgeBase) {
		kb.Keywords = idx
	}
}

// NewKnowledgeBase creates a new KnowledgeBase.
func NewKnowledgeBase(embedder Embedder, store VectorStore, opts ...Option) *KnowledgeBase {
	kb := &KnowledgeBase{
		Embedder:    embedder,
		VectorStore: store,
	}
	for _, opt := range opts {
		opt(kb)
	}
	return kb
}

// Ingest embeds and stores chunks.
func (kb *KnowledgeBase) Ingest(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	if f, ok := kb.Embedder.(Fitter); ok {
		if err := f.Fit(texts); err != nil {
			return fmt.Errorf("failed to fit embedder: %w", err)
		}
	}

	vectors, err := kb.Embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}

	if err := kb.VectorStore.Upsert(ctx, vectors, chunks); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}

	if kb.Keywords != nil {
		if err := kb.Keywords.Index(ctx, chunks); err != nil {
			return fmt.Errorf("failed to index keywords: %w", err)
		}
	}
	return nil
}

// Retrieve finds relevant chunks for a query.
func (kb *KnowledgeBase) Retrieve(ctx context.Context, query string, limit int) ([]Chunk, error) {
	vectors, err := kb.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	if len(vectors) == 0 {
		return nil, nil
	}

	semantic, err := kb.VectorStore.Search(ctx, vectors[0], limit)
	if err != nil {
		return nil, err
	}
	if kb.Keywords == nil {
		return semantic, nil
	}

	lexical, err := kb.Keywords.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search keywords: %w", err)
	}
	return FuseRRF(limit, semantic, lexical), nil
}

// Close releases the stores behind the knowledge base. Stores implementing
// Dropper lose their contents.
func (kb *KnowledgeBase) Close(ctx context.Context) error {
	var firstErr error
	if d, ok := kb.VectorStore.(Dropper); ok {
		if err := d.Drop(ctx); err != nil {
			firstErr = fmt.Errorf("failed to drop vector store: %w", err)
		}
	}
	if c, ok := kb.VectorStore.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close vector store: %w", err)
		}
	}
	if kb.Keywords != nil {
		if err := kb.Keywords.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close keyword index: %w", err)
		}
	}
	return firstErr
}

// rrfK is the reciprocal-rank-fusion constant.
const rrfK = 60

// FuseRRF merges ranked lists by reciprocal-rank fusion and keeps the best limit
// chunks. Ties keep first-seen order.
func FuseRRF(limit int, lists ...[]Chunk) []Chunk {
	type agg struct {
		chunk Chunk
		score float64
		order int
	}
	byID := make(map[string]*agg)
	order := 0
	for _, list := range lists {
		for rank, c := range list {
			a, ok := byID[c.ID]
			if !ok {
				a = &agg{chunk: c, order: order}
				byID[c.ID] = a
				order++
			}
			a.score += 1.0 / float64(rrfK+rank+1)
		}
	}

	fused := make([]*agg, 0, len(byID))
	for _, a := range byID {
		fused = append(fused, a)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score == fused[j].score {
			return fused[i].order < fused[j].order
		}
		return fused[i].score > fused[j].score
	})

	if limit <= 0 || limit > len(fused) {
		limit = len(fused)
	}
	out := make([]Chunk, limit)
	for i := 0; i < limit; i++ {
		out[i] = fused[i].chunk
		out[i].Score = float32(fused[i].score)
	}
	return out
}
