package memory

import (
	"context"

	"github.com/barekit/docinsights/pkg/llm"
)

// Memory stores chat transcripts per session.
type Memory interface {
	// Save appends a message to the session's transcript.
	Save(ctx context.Context, sessionID string, msg llm.Message) error
	// Load returns the session's transcript in the order it was saved.
	Load(ctx context.Context, sessionID string) ([]llm.Message, error)
	// Clear removes the session's transcript.
	Clear(ctx context.Context, sessionID string) error
}
