package backend

import (
	"context"
	"testing"

	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/barekit/docinsights/pkg/knowledge/inmemory"
	"github.com/barekit/docinsights/pkg/knowledge/tfidf"
)

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(EmbedderConfig{})
	if err != nil {
		t.Fatalf("NewEmbedder failed: %v", err)
	}
	if _, ok := e.(*tfidf.Embedder); !ok {
		t.Errorf("expected tfidf by default, got %T", e)
	}
	if _, err := NewEmbedder(EmbedderConfig{Provider: "word2vec"}); err == nil {
		t.Error("expected an error for an unknown embedder")
	}
}

func TestNewStoresValidates(t *testing.T) {
	if _, err := NewStores(StoreConfig{Type: "chroma"}); err == nil {
		t.Error("expected an error for an unknown store")
	}
	if _, err := NewStores(StoreConfig{Type: StoreQdrant}); err == nil {
		t.Error("expected an error for a qdrant store without host")
	}
}

func TestMemoryNamespacesAreIsolated(t *testing.T) {
	stores, err := NewStores(StoreConfig{})
	if err != nil {
		t.Fatalf("NewStores failed: %v", err)
	}
	defer stores.Close()

	a, _ := stores.Open("a")
	b, _ := stores.Open("b")
	if _, ok := a.(*inmemory.Store); !ok {
		t.Fatalf("expected inmemory store, got %T", a)
	}
	ctx := context.Background()
	_ = a.Upsert(ctx, [][]float32{{1}}, []knowledge.Chunk{{ID: "source_0"}})
	if res, _ := b.Search(ctx, []float32{1}, 5); len(res) != 0 {
		t.Errorf("namespace b sees a's chunks: %+v", res)
	}
}

func TestHybridKnowledgeBase(t *testing.T) {
	stores, err := NewStores(StoreConfig{Hybrid: true})
	if err != nil {
		t.Fatalf("NewStores failed: %v", err)
	}
	emb, _ := NewEmbedder(EmbedderConfig{Provider: EmbedderTFIDF})
	kb, err := stores.KnowledgeBase("session-1", emb)
	if err != nil {
		t.Fatalf("KnowledgeBase failed: %v", err)
	}
	if kb.Keywords == nil {
		t.Fatal("expected a keyword index")
	}

	ctx := context.Background()
	err = kb.Ingest(ctx, []knowledge.Chunk{
		{ID: "source_0", Text: "Finance addresses the management of money."},
		{ID: "source_1", Text: "Public finance includes tax systems and government expenditures."},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	res, err := kb.Retrieve(ctx, "tax systems", 1)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(res) != 1 || res[0].ID != "source_1" {
		t.Errorf("expected source_1, got %+v", res)
	}
	if err := kb.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
