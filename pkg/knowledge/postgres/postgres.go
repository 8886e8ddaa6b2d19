package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresStore implements knowledge.VectorStore using pgvector. Rows are
// scoped by namespace so several chat sessions can share one table.
type PostgresStore struct {
	db        *gorm.DB
	namespace string
}

// ChunkModel represents the database schema for a chunk.
type ChunkModel struct {
	Namespace string `gorm:"primaryKey;size:64"`
	ID        string `gorm:"primaryKey;size:64"`
	Position  int
	Text      string
	Source    string
	Metadata  []byte          `gorm:"type:jsonb"`
	Embedding pgvector.Vector `gorm:"type:vector"`
}

// TableName overrides the table name.
func (ChunkModel) TableName() string {
	return "chunks"
}

// Open connects to Postgres, enables pgvector and migrates the chunk table.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	if err := db.AutoMigrate(&ChunkModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// New creates a store over an already opened database.
func New(db *gorm.DB, namespace string) *PostgresStore {
	return &PostgresStore{db: db, namespace: namespace}
}

func (s *PostgresStore) Upsert(ctx context.Context, vectors [][]float32, chunks []knowledge.Chunk) error {
	if len(vectors) != len(chunks) {
		return fmt.Errorf("number of vectors and chunks must match")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, c := range chunks {
			meta, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata: %w", err)
			}

			model := ChunkModel{
				Namespace: s.namespace,
				ID:        c.ID,
				Position:  i,
				Text:      c.Text,
				Source:    c.Source,
				Metadata:  meta,
				Embedding: pgvector.NewVector(vectors[i]),
			}

			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "namespace"}, {Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"position", "text", "source", "metadata", "embedding"}),
			}).Create(&model).Error; err != nil {
				return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Search(ctx context.Context, query []float32, limit int) ([]knowledge.Chunk, error) {
	type row struct {
		ChunkModel
		Distance float64
	}
	var rows []row

	// <=> is pgvector's cosine distance; smaller is closer.
	vec := pgvector.NewVector(query)
	err := s.db.WithContext(ctx).
		Model(&ChunkModel{}).
		Select("*, embedding <=> ? AS distance", vec).
		Where("namespace = ?", s.namespace).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{vec}}).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	chunks := make([]knowledge.Chunk, len(rows))
	for i, r := range rows {
		c := knowledge.Chunk{
			ID:     r.ID,
			Text:   r.Text,
			Source: r.Source,
			Score:  float32(1 - r.Distance),
		}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &c.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		chunks[i] = c
	}

	return chunks, nil
}

// Drop deletes every row of the namespace.
func (s *PostgresStore) Drop(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("namespace = ?", s.namespace).Delete(&ChunkModel{}).Error; err != nil {
		return fmt.Errorf("failed to drop namespace %s: %w", s.namespace, err)
	}
	return nil
}
