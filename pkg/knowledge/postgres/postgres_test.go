package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/barekit/docinsights/pkg/knowledge"
)

func TestNamespacedStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()

	a, b := New(db, "test_a"), New(db, "test_b")
	defer a.Drop(ctx)
	defer b.Drop(ctx)

	chunks := []knowledge.Chunk{
		{ID: "source_0", Text: "alpha", Metadata: map[string]string{"page": "1"}},
		{ID: "source_1", Text: "beta"},
	}
	if err := a.Upsert(ctx, [][]float32{{1, 0, 0}, {0, 1, 0}}, chunks); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := b.Upsert(ctx, [][]float32{{0, 1, 0}}, []knowledge.Chunk{{ID: "source_0", Text: "other"}}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	res, err := a.Search(ctx, []float32{0, 1, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res) != 2 || res[0].ID != "source_1" {
		t.Fatalf("unexpected results %+v", res)
	}
	for _, c := range res {
		if c.Text == "other" {
			t.Errorf("namespace b leaked into a")
		}
	}

	if err := a.Drop(ctx); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	res, _ = b.Search(ctx, []float32{0, 1, 0}, 5)
	if len(res) != 1 {
		t.Errorf("expected namespace b untouched, got %d", len(res))
	}
}
