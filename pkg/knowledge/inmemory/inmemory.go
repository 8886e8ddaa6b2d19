package inmemory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/barekit/docinsights/pkg/knowledge"
)

// Store is a brute-force cosine-similarity vector store kept in process memory.
type Store struct {
	mu      sync.RWMutex
	index   map[string]int
	vectors [][]float32
	chunks  []knowledge.Chunk
}

// New creates an empty Store.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Upsert inserts chunks, replacing any with the same ID.
func (s *Store) Upsert(_ context.Context, vectors [][]float32, chunks []knowledge.Chunk) error {
	if len(vectors) != len(chunks) {
		return fmt.Errorf("number of vectors and chunks must match")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range chunks {
		if j, ok := s.index[c.ID]; ok {
			s.vectors[j] = vectors[i]
			s.chunks[j] = c
			continue
		}
		s.index[c.ID] = len(s.chunks)
		s.vectors = append(s.vectors, vectors[i])
		s.chunks = append(s.chunks, c)
	}
	return nil
}

// Search returns the limit chunks most similar to query. Equal scores keep
// insertion order.
func (s *Store) Search(_ context.Context, query []float32, limit int) ([]knowledge.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type hit struct {
		pos   int
		score float32
	}
	hits := make([]hit, len(s.vectors))
	for i, v := range s.vectors {
		hits[i] = hit{pos: i, score: cosine(v, query)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if limit <= 0 || limit > len(hits) {
		limit = len(hits)
	}
	out := make([]knowledge.Chunk, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.chunks[hits[i].pos]
		out[i].Score = hits[i].score
	}
	return out, nil
}

// Len reports how many chunks the store holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Drop discards all stored chunks.
func (s *Store) Drop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = make(map[string]int)
	s.vectors = nil
	s.chunks = nil
	return nil
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
