// Package compat is an llm.Provider for OpenAI-compatible servers such as
// LM Studio, Ollama or vLLM.
package compat

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/barekit/docinsights/pkg/llm"
	"github.com/sashabaranov/go-openai"
)

type Provider struct {
	client      *openai.Client
	model       string
	temperature float32
}

// New creates a provider for the server at baseURL.
func New(baseURL, apiKey, model string) *Provider {
	if apiKey == "" {
		apiKey = "not-needed"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Provider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// SetTemperature sets the sampling temperature.
func (p *Provider) SetTemperature(t float64) {
	p.temperature = float32(t)
}

func (p *Provider) request(messages []llm.Message) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: p.temperature,
	}
}

func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (*llm.Message, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(messages))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("failed to create completion: no choices returned")
	}
	return &llm.Message{
		Role:    llm.RoleAssistant,
		Content: resp.Choices[0].Message.Content,
	}, nil
}

func (p *Provider) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Delta, error) {
	req := p.request(messages)
	req.Stream = true
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	out := make(chan llm.Delta)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			d := llm.Delta{}
			if err != nil {
				d.Err = fmt.Errorf("failed to stream completion: %w", err)
			} else if len(resp.Choices) > 0 {
				d.Content = resp.Choices[0].Delta.Content
			}
			if d.Err == nil && d.Content == "" {
				continue
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
			if d.Err != nil {
				return
			}
		}
	}()
	return out, nil
}
