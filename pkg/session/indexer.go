package session

import (
	"context"
	"fmt"

	"github.com/barekit/docinsights/pkg/ingest"
	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/barekit/docinsights/pkg/llm"
	"github.com/barekit/docinsights/pkg/qa"
)

// KnowledgeOpener opens an empty knowledge base for a namespace.
type KnowledgeOpener interface {
	KnowledgeBase(namespace string, embedder knowledge.Embedder) (*knowledge.KnowledgeBase, error)
}

// Pipeline is the default Indexer: split, embed into a per-session
// namespace, then build a QA chain over it.
type Pipeline struct {
	Ingester *ingest.Ingester
	Stores   KnowledgeOpener
	// NewEmbedder is called once per session since some embedders are fitted
	// to the session's corpus.
	NewEmbedder  func() (knowledge.Embedder, error)
	LLM          llm.Provider
	ChainOptions []qa.Option
}

// Index implements Indexer.
func (p *Pipeline) Index(ctx context.Context, sessionID string, u ingest.Upload) (*Index, error) {
	chunks, err := p.Ingester.Ingest(ctx, u)
	if err != nil {
		return nil, err
	}

	embedder, err := p.NewEmbedder()
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	kb, err := p.Stores.KnowledgeBase(sessionID, embedder)
	if err != nil {
		return nil, err
	}
	if err := kb.Ingest(ctx, chunks); err != nil {
		_ = kb.Close(context.Background())
		return nil, fmt.Errorf("failed to index document: %w", err)
	}

	return &Index{
		Chunks: chunks,
		QA:     qa.New(p.LLM, kb, p.ChainOptions...),
		Close:  kb.Close,
	}, nil
}
