package openai

import (
	"context"
	"fmt"

	"github.com/barekit/docinsights/pkg/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type Provider struct {
	client      *openai.Client
	model       string
	temperature float64
}

func New(opts ...option.RequestOption) *Provider {
	client := openai.NewClient(opts...)
	return &Provider{
		client: &client,
		model:  openai.ChatModelGPT4oMini,
	}
}

// SetModel sets the model to use.
func (p *Provider) SetModel(model string) {
	if model != "" {
		p.model = model
	}
}

// SetTemperature sets the sampling temperature. Zero keeps answers
// deterministic.
func (p *Provider) SetTemperature(t float64) {
	p.temperature = t
}

func (p *Provider) params(messages []llm.Message) (openai.ChatCompletionNewParams, error) {
	openaiMessages, err := buildMessages(messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	return openai.ChatCompletionNewParams{
		Messages:    openaiMessages,
		Model:       p.model,
		Temperature: openai.Float(p.temperature),
	}, nil
}

func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (*llm.Message, error) {
	params, err := p.params(messages)
	if err != nil {
		return nil, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("failed to create completion: no choices returned")
	}

	return &llm.Message{
		Role:    llm.RoleAssistant,
		Content: completion.Choices[0].Message.Content,
	}, nil
}

// Stream sends a list of messages to the LLM and returns a channel of response chunks.
func (p *Provider) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Delta, error) {
	params, err := p.params(messages)
	if err != nil {
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan llm.Delta)
	go func() {
		defer close(out)
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- llm.Delta{Content: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- llm.Delta{Err: fmt.Errorf("failed to stream completion: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

func buildMessages(messages []llm.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	openaiMessages := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			openaiMessages[i] = openai.SystemMessage(msg.Content)
		case llm.RoleUser:
			openaiMessages[i] = openai.UserMessage(msg.Content)
		case llm.RoleAssistant:
			openaiMessages[i] = openai.AssistantMessage(msg.Content)
		default:
			return nil, fmt.Errorf("unknown role: %s", msg.Role)
		}
	}
	return openaiMessages, nil
}
