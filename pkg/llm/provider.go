package llm

import (
	"context"
	"time"
)

// Role represents the role of the message sender (system, user, assistant).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Citations holds the chunk ids an assistant answer was attributed to.
	Citations []string  `json:"citations,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Delta is one streamed piece of a completion. A non-nil Err ends the stream.
type Delta struct {
	Content string
	Err     error
}

// Provider defines the interface for an LLM provider.
type Provider interface {
	// Chat sends a list of messages to the LLM and returns the response.
	Chat(ctx context.Context, messages []Message) (*Message, error)
	// Stream sends a list of messages to the LLM and returns a channel of
	// response chunks. The channel is closed when the completion ends or ctx
	// is cancelled.
	Stream(ctx context.Context, messages []Message) (<-chan Delta, error)
}
