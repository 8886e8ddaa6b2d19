// Package lexical provides an in-memory bleve index used as the keyword half
// of hybrid retrieval.
package lexical

import (
	"context"
	"fmt"
	"sync"

	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/blevesearch/bleve"
)

type indexedChunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Index implements knowledge.KeywordIndex.
type Index struct {
	mu     sync.RWMutex
	bleve  bleve.Index
	chunks map[string]knowledge.Chunk
}

// New creates an empty memory-only index.
func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &Index{
		bleve:  idx,
		chunks: make(map[string]knowledge.Chunk),
	}, nil
}

// Index adds chunks to the index.
func (i *Index) Index(_ context.Context, chunks []knowledge.Chunk) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	batch := i.bleve.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(c.ID, indexedChunk{Text: c.Text, Source: c.Source}); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
		i.chunks[c.ID] = c
	}
	if err := i.bleve.Batch(batch); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Search runs a match query over chunk text.
func (i *Index) Search(_ context.Context, query string, limit int) ([]knowledge.Chunk, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := i.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	out := make([]knowledge.Chunk, 0, len(res.Hits))
	for _, hit := range res.Hits {
		c, ok := i.chunks[hit.ID]
		if !ok {
			continue
		}
		c.Score = float32(hit.Score)
		out = append(out, c)
	}
	return out, nil
}

// Close releases the index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.chunks = make(map[string]knowledge.Chunk)
	return i.bleve.Close()
}
