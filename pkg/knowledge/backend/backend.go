// Package backend builds embedders and per-session vector stores from
// configuration.
package backend

import (
	"fmt"

	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/barekit/docinsights/pkg/knowledge/compat"
	"github.com/barekit/docinsights/pkg/knowledge/inmemory"
	"github.com/barekit/docinsights/pkg/knowledge/lexical"
	oaiembed "github.com/barekit/docinsights/pkg/knowledge/openai"
	pgstore "github.com/barekit/docinsights/pkg/knowledge/postgres"
	"github.com/barekit/docinsights/pkg/knowledge/qdrant"
	"github.com/barekit/docinsights/pkg/knowledge/tfidf"
	"github.com/openai/openai-go/option"
	"gorm.io/gorm"
)

type StoreType string

const (
	StoreMemory   StoreType = "memory"
	StoreQdrant   StoreType = "qdrant"
	StorePostgres StoreType = "postgres"
)

type EmbedderType string

const (
	EmbedderOpenAI EmbedderType = "openai"
	EmbedderCompat EmbedderType = "compat"
	EmbedderTFIDF  EmbedderType = "tfidf"
)

// EmbedderConfig selects and configures an embedder.
type EmbedderConfig struct {
	Provider EmbedderType
	Model    string
	BaseURL  string
	APIKey   string
}

// StoreConfig selects and configures the vector store.
type StoreConfig struct {
	Type             StoreType
	QdrantHost       string
	QdrantPort       int
	CollectionPrefix string
	PostgresDSN      string
	// Hybrid adds a bleve keyword index next to every vector store.
	Hybrid bool
}

// NewEmbedder creates an embedder. tfidf embedders hold corpus state, so
// callers create one per session.
func NewEmbedder(cfg EmbedderConfig) (knowledge.Embedder, error) {
	switch cfg.Provider {
	case EmbedderOpenAI:
		var opts []option.RequestOption
		if cfg.APIKey != "" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		e := oaiembed.NewEmbedder(opts...)
		e.SetModel(cfg.Model)
		return e, nil

	case EmbedderCompat:
		return compat.NewEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model), nil

	case EmbedderTFIDF, "":
		return tfidf.NewEmbedder(), nil

	default:
		return nil, fmt.Errorf("unsupported embedder: %s", cfg.Provider)
	}
}

// Stores opens vector stores scoped to a namespace, sharing connections where
// the backend allows it.
type Stores struct {
	cfg StoreConfig
	db  *gorm.DB
}

// NewStores validates cfg and opens shared connections.
func NewStores(cfg StoreConfig) (*Stores, error) {
	s := &Stores{cfg: cfg}
	switch cfg.Type {
	case StoreMemory, "":
	case StoreQdrant:
		if cfg.QdrantHost == "" {
			return nil, fmt.Errorf("qdrant host is required")
		}
	case StorePostgres:
		db, err := pgstore.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s.db = db
	default:
		return nil, fmt.Errorf("unsupported vector store: %s", cfg.Type)
	}
	return s, nil
}

// Open returns a vector store holding only namespace's chunks.
func (s *Stores) Open(namespace string) (knowledge.VectorStore, error) {
	switch s.cfg.Type {
	case StoreQdrant:
		prefix := s.cfg.CollectionPrefix
		if prefix == "" {
			prefix = "docinsights"
		}
		return qdrant.New(s.cfg.QdrantHost, s.cfg.QdrantPort, prefix+"_"+namespace, 0)
	case StorePostgres:
		return pgstore.New(s.db, namespace), nil
	default:
		return inmemory.New(), nil
	}
}

// KnowledgeBase assembles a knowledge base for one namespace.
func (s *Stores) KnowledgeBase(namespace string, embedder knowledge.Embedder) (*knowledge.KnowledgeBase, error) {
	vs, err := s.Open(namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	var opts []knowledge.Option
	if s.cfg.Hybrid {
		idx, err := lexical.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, knowledge.WithKeywordIndex(idx))
	}
	return knowledge.NewKnowledgeBase(embedder, vs, opts...), nil
}

// Close releases shared connections.
func (s *Stores) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
