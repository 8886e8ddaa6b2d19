package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/barekit/docinsights/pkg/llm"
)

// InMemory implements Memory using a map.
type InMemory struct {
	mu       sync.RWMutex
	messages map[string][]llm.Message
}

// New creates a new InMemory adapter.
func New() *InMemory {
	return &InMemory{
		messages: make(map[string][]llm.Message),
	}
}

// Save saves a message to the in-memory store.
func (m *InMemory) Save(_ context.Context, sessionID string, msg llm.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if len(msg.Citations) > 0 {
		msg.Citations = append([]string(nil), msg.Citations...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return nil
}

// Load loads messages from the in-memory store.
func (m *InMemory) Load(_ context.Context, sessionID string) ([]llm.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	result := make([]llm.Message, len(msgs))
	copy(result, msgs)

	return result, nil
}

// Clear drops the session's messages.
func (m *InMemory) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, sessionID)
	return nil
}
