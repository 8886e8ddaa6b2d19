// Package qa implements a retrieval QA chain that reports which chunks an
// answer was drawn from.
package qa

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/barekit/docinsights/pkg/llm"
)

const (
	DefaultTopK             = 4
	DefaultMaxContextTokens = 4097
)

// Retriever returns the chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]knowledge.Chunk, error)
}

// Result is the raw outcome of one question. Sources is the unprocessed
// sources field reported by the model.
type Result struct {
	Answer  string            `json:"answer"`
	Sources string            `json:"sources"`
	Chunks  []knowledge.Chunk `json:"-"`
}

// Chain answers questions with a "stuff" prompt over retrieved chunks.
type Chain struct {
	LLM              llm.Provider
	Retriever        Retriever
	TopK             int
	MaxContextTokens int
	Instructions     string
	Debug            bool
}

// Option is a function that configures a Chain.
type Option func(*Chain)

// New creates a new Chain.
func New(provider llm.Provider, retriever Retriever, opts ...Option) *Chain {
	c := &Chain{
		LLM:              provider,
		Retriever:        retriever,
		TopK:             DefaultTopK,
		MaxContextTokens: DefaultMaxContextTokens,
		Instructions:     instructions,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTopK sets how many chunks are retrieved per question.
func WithTopK(k int) Option {
	return func(c *Chain) {
		if k > 0 {
			c.TopK = k
		}
	}
}

// WithMaxContextTokens caps the estimated size of the retrieved context.
func WithMaxContextTokens(n int) Option {
	return func(c *Chain) {
		c.MaxContextTokens = n
	}
}

// WithInstructions replaces the system instructions.
func WithInstructions(s string) Option {
	return func(c *Chain) {
		c.Instructions = s
	}
}

// WithDebug enables debug logging.
func WithDebug(enable bool) Option {
	return func(c *Chain) {
		c.Debug = enable
	}
}

// Ask answers question and returns the answer with its raw sources field.
func (c *Chain) Ask(ctx context.Context, question string) (Result, error) {
	if c.Debug {
		slog.Info("QA Ask started", "question", question)
	}

	msgs, chunks, err := c.prepare(ctx, question)
	if err != nil {
		return Result{}, err
	}

	response, err := c.LLM.Chat(ctx, msgs)
	if err != nil {
		if c.Debug {
			slog.Error("LLM Chat failed", "error", err)
		}
		return Result{}, fmt.Errorf("LLM error: %w", err)
	}

	answer, sources := parseCompletion(response.Content)
	if c.Debug {
		slog.Info("QA Ask completed", "answer_length", len(answer), "sources", sources)
	}
	return Result{Answer: answer, Sources: sources, Chunks: chunks}, nil
}

// Stream is an answer being produced. Tokens carries answer text only and is
// closed when the completion ends, fails or the context is cancelled. Callers
// must drain Tokens or cancel the context.
type Stream struct {
	Tokens <-chan string

	done   chan struct{}
	result Result
	err    error
}

// Wait blocks until the stream has finished and returns the parsed result.
func (s *Stream) Wait() (Result, error) {
	<-s.done
	return s.result, s.err
}

// AskStream answers question, forwarding answer tokens as they arrive.
func (c *Chain) AskStream(ctx context.Context, question string) (*Stream, error) {
	if c.Debug {
		slog.Info("QA AskStream started", "question", question)
	}

	msgs, chunks, err := c.prepare(ctx, question)
	if err != nil {
		return nil, err
	}

	deltas, err := c.LLM.Stream(ctx, msgs)
	if err != nil {
		if c.Debug {
			slog.Error("LLM Stream failed", "error", err)
		}
		return nil, fmt.Errorf("LLM error: %w", err)
	}

	tokens := make(chan string)
	s := &Stream{Tokens: tokens, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		defer close(tokens)

		var filter answerFilter
		send := func(text string) bool {
			if text == "" {
				return true
			}
			select {
			case tokens <- text:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				s.err = ctx.Err()
				return
			case d, ok := <-deltas:
				if !ok {
					if err := ctx.Err(); err != nil {
						s.err = err
						return
					}
					if !send(filter.Flush()) {
						s.err = ctx.Err()
						return
					}
					answer, sources := parseCompletion(filter.Text())
					s.result = Result{Answer: answer, Sources: sources, Chunks: chunks}
					if c.Debug {
						slog.Info("QA AskStream completed", "answer_length", len(answer), "sources", sources)
					}
					return
				}
				if d.Err != nil {
					if c.Debug {
						slog.Error("LLM Stream failed", "error", d.Err)
					}
					s.err = fmt.Errorf("LLM error: %w", d.Err)
					return
				}
				if !send(filter.Push(d.Content)) {
					s.err = ctx.Err()
					return
				}
			}
		}
	}()

	return s, nil
}

// prepare retrieves context for question and builds the conversation.
func (c *Chain) prepare(ctx context.Context, question string) ([]llm.Message, []knowledge.Chunk, error) {
	chunks, err := c.Retriever.Retrieve(ctx, question, c.TopK)
	if err != nil {
		if c.Debug {
			slog.Error("QA failed to retrieve chunks", "error", err)
		}
		return nil, nil, fmt.Errorf("failed to retrieve documents: %w", err)
	}

	fitted := fitContext(chunks, c.MaxContextTokens)
	if c.Debug {
		slog.Info("QA context", "retrieved", len(chunks), "kept", len(fitted))
	}

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: c.Instructions},
		{Role: llm.RoleUser, Content: renderPrompt(question, fitted)},
	}
	return msgs, fitted, nil
}
