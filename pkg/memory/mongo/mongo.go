package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/barekit/docinsights/pkg/llm"
	"github.com/barekit/docinsights/pkg/memory/consts"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoMemory struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type MessageDoc struct {
	SessionID string    `bson:"session_id"`
	Seq       int64     `bson:"seq"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Citations []string  `bson:"citations,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

// New creates a new MongoMemory adapter.
func New(client *mongo.Client, dbName, collectionName string) *MongoMemory {
	return &MongoMemory{
		client:     client,
		collection: client.Database(dbName).Collection(collectionName),
	}
}

func (m *MongoMemory) Save(ctx context.Context, sessionID string, msg llm.Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	doc := MessageDoc{
		SessionID: sessionID,
		Seq:       time.Now().UnixNano(),
		Role:      string(msg.Role),
		Content:   msg.Content,
		Citations: msg.Citations,
		CreatedAt: createdAt,
	}

	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (m *MongoMemory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	filter := bson.M{consts.ColSessionID: sessionID}
	opts := options.Find().SetSort(bson.D{{Key: consts.ColSeq, Value: 1}})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []llm.Message
	for cursor.Next(ctx) {
		var doc MessageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		messages = append(messages, llm.Message{
			Role:      llm.Role(doc.Role),
			Content:   doc.Content,
			Citations: doc.Citations,
			CreatedAt: doc.CreatedAt,
		})
	}

	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (m *MongoMemory) Clear(ctx context.Context, sessionID string) error {
	if _, err := m.collection.DeleteMany(ctx, bson.M{consts.ColSessionID: sessionID}); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

func (m *MongoMemory) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
