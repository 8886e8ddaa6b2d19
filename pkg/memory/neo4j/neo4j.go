package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/barekit/docinsights/pkg/llm"
	"github.com/barekit/docinsights/pkg/memory/consts"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jMemory stores transcripts as a graph: (Session)-[:HAS_MESSAGE]->(Message)
// and, for attributed answers, (Message)-[:CITES]->(Chunk).
type Neo4jMemory struct {
	driver neo4j.DriverWithContext
	dbName string
}

// New creates a new Neo4jMemory adapter.
func New(ctx context.Context, uri, username, password, dbName string) (*Neo4jMemory, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j: %w", err)
	}

	return &Neo4jMemory{
		driver: driver,
		dbName: dbName,
	}, nil
}

func (m *Neo4jMemory) Save(ctx context.Context, sessionID string, msg llm.Message) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.dbName})
	defer session.Close(ctx)

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	citations := msg.Citations
	if citations == nil {
		citations = []string{}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
		MERGE (s:%[1]s {id: $sessionID})
		CREATE (m:%[2]s {%[3]s: $seq, %[4]s: $role, %[5]s: $content, %[6]s: $citations, %[7]s: $createdAt})
		CREATE (s)-[:%[8]s]->(m)
		WITH s, m
		UNWIND $citations AS chunkID
		MERGE (c:%[9]s {id: chunkID, session: $sessionID})
		MERGE (m)-[:%[10]s]->(c)
		`, consts.LabelSession, consts.LabelMessage,
			consts.ColSeq, consts.ColRole, consts.ColContent, consts.ColCitations, consts.ColCreatedAt,
			consts.RelHasMessage, consts.LabelChunk, consts.RelCites)

		params := map[string]any{
			"sessionID": sessionID,
			"seq":       time.Now().UnixNano(),
			"role":      string(msg.Role),
			"content":   msg.Content,
			"citations": citations,
			"createdAt": createdAt,
		}
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (m *Neo4jMemory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.dbName})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
		MATCH (s:%s {id: $sessionID})-[:%s]->(m:%s)
		RETURN m.%s AS role, m.%s AS content, m.%s AS citations, m.%s AS created_at
		ORDER BY m.%s ASC
		`, consts.LabelSession, consts.RelHasMessage, consts.LabelMessage,
			consts.ColRole, consts.ColContent, consts.ColCitations, consts.ColCreatedAt,
			consts.ColSeq)

		result, err := tx.Run(ctx, query, map[string]any{"sessionID": sessionID})
		if err != nil {
			return nil, err
		}

		var messages []llm.Message
		for result.Next(ctx) {
			record := result.Record()

			role, _ := record.Get("role")
			content, _ := record.Get("content")
			msg := llm.Message{}
			if s, ok := role.(string); ok {
				msg.Role = llm.Role(s)
			}
			if s, ok := content.(string); ok {
				msg.Content = s
			}
			if raw, ok := record.Get("citations"); ok {
				if list, ok := raw.([]any); ok {
					for _, v := range list {
						if s, ok := v.(string); ok {
							msg.Citations = append(msg.Citations, s)
						}
					}
				}
			}
			if raw, ok := record.Get("created_at"); ok {
				if ts, ok := raw.(time.Time); ok {
					msg.CreatedAt = ts
				}
			}
			messages = append(messages, msg)
		}

		return messages, result.Err()
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	messages, _ := result.([]llm.Message)
	return messages, nil
}

func (m *Neo4jMemory) Clear(ctx context.Context, sessionID string) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.dbName})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
		MATCH (s:%s {id: $sessionID})
		OPTIONAL MATCH (s)-[:%s]->(m:%s)
		OPTIONAL MATCH (c:%s {session: $sessionID})
		DETACH DELETE s, m, c
		`, consts.LabelSession, consts.RelHasMessage, consts.LabelMessage, consts.LabelChunk)
		_, err := tx.Run(ctx, query, map[string]any{"sessionID": sessionID})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

func (m *Neo4jMemory) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}
