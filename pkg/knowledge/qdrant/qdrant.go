package qdrant

import (
	"context"
	"fmt"

	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	payloadText   = "text"
	payloadID     = "chunk_id"
	payloadSource = "source"
)

// pointNamespace seeds deterministic point ids; Qdrant only accepts UUIDs or
// integers while chunk ids look like "source_3".
var pointNamespace = uuid.MustParse("6f1d7a52-9a53-4a53-8e3c-2d0c3cb0b6a1")

// QdrantStore implements knowledge.VectorStore on one Qdrant collection.
type QdrantStore struct {
	client         *qdrant.Client
	collectionName string
	vectorSize     uint64
	ready          bool
}

// New creates a new QdrantStore. When vectorSize is zero the collection is
// created lazily from the first upserted vector.
func New(host string, port int, collectionName string, vectorSize uint64) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	store := &QdrantStore{
		client:         client,
		collectionName: collectionName,
		vectorSize:     vectorSize,
	}

	if vectorSize > 0 {
		if err := store.initCollection(context.Background()); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// Collection returns the collection backing the store.
func (s *QdrantStore) Collection() string { return s.collectionName }

func (s *QdrantStore) initCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	s.ready = true
	return nil
}

// Upsert stores chunks as points keyed by a UUID derived from the chunk id.
func (s *QdrantStore) Upsert(ctx context.Context, vectors [][]float32, chunks []knowledge.Chunk) error {
	if len(vectors) != len(chunks) {
		return fmt.Errorf("number of vectors and chunks must match")
	}
	if len(vectors) == 0 {
		return nil
	}
	if !s.ready {
		if s.vectorSize == 0 {
			s.vectorSize = uint64(len(vectors[0]))
		}
		if err := s.initCollection(ctx); err != nil {
			return err
		}
	}

	points := make([]*qdrant.PointStruct, len(vectors))
	for i, c := range chunks {
		payload := map[string]*qdrant.Value{
			payloadText:   qdrant.NewValueString(c.Text),
			payloadID:     qdrant.NewValueString(c.ID),
			payloadSource: qdrant.NewValueString(c.Source),
		}
		for k, v := range c.Metadata {
			if _, reserved := payload[k]; reserved {
				continue
			}
			payload[k] = qdrant.NewValueString(v)
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(c.ID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         points,
		Wait:           &wait,
	}); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search queries the collection with a vector.
func (s *QdrantStore) Search(ctx context.Context, query []float32, limit int) ([]knowledge.Chunk, error) {
	if !s.ready {
		return nil, nil
	}
	limit64 := uint64(limit)
	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit64,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}

	chunks := make([]knowledge.Chunk, len(res))
	for i, hit := range res {
		c := knowledge.Chunk{Score: hit.Score, Metadata: make(map[string]string)}
		for k, v := range hit.Payload {
			switch k {
			case payloadText:
				c.Text = v.GetStringValue()
			case payloadID:
				c.ID = v.GetStringValue()
			case payloadSource:
				c.Source = v.GetStringValue()
			default:
				c.Metadata[k] = v.GetStringValue()
			}
		}
		chunks[i] = c
	}

	return chunks, nil
}

// Drop deletes the collection.
func (s *QdrantStore) Drop(ctx context.Context) error {
	if !s.ready {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, s.collectionName); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	s.ready = false
	return nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// PointID maps a chunk id to the UUID used as its Qdrant point id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}
