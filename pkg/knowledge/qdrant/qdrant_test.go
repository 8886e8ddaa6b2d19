package qdrant

import (
	"context"
	"os"
	"testing"

	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/google/uuid"
)

func TestPointIDIsStableUUID(t *testing.T) {
	a := PointID("source_0")
	if a != PointID("source_0") {
		t.Error("expected a deterministic id")
	}
	if a == PointID("source_1") {
		t.Error("expected distinct ids for distinct chunks")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("expected a UUID, got %q", a)
	}
}

func TestQdrantRoundTrip(t *testing.T) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		t.Skip("QDRANT_HOST not set")
	}
	ctx := context.Background()

	s, err := New(host, 6334, "docinsights_test_"+uuid.NewString()[:8], 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()
	defer s.Drop(ctx)

	err = s.Upsert(ctx,
		[][]float32{{1, 0, 0}, {0, 1, 0}},
		[]knowledge.Chunk{
			{ID: "source_0", Text: "alpha", Metadata: map[string]string{"page": "1"}},
			{ID: "source_1", Text: "beta"},
		},
	)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	res, err := s.Search(ctx, []float32{0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res) != 1 || res[0].ID != "source_1" || res[0].Text != "beta" {
		t.Errorf("unexpected result %+v", res)
	}
}
