package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultBatchSize is the number of inputs sent per embeddings request.
// The API rejects requests above 2048 inputs.
const DefaultBatchSize = 512

// Embedder implements knowledge.Embedder using OpenAI.
type Embedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	batchSize int
}

// NewEmbedder creates a new OpenAI Embedder.
func NewEmbedder(opts ...option.RequestOption) *Embedder {
	client := openai.NewClient(opts...)
	return &Embedder{
		client:    &client,
		model:     openai.EmbeddingModelTextEmbedding3Small,
		batchSize: DefaultBatchSize,
	}
}

// SetModel overrides the embedding model.
func (e *Embedder) SetModel(model string) {
	if model != "" {
		e.model = openai.EmbeddingModel(model)
	}
}

// SetBatchSize overrides the number of inputs per request.
func (e *Embedder) SetBatchSize(n int) {
	if n > 0 {
		e.batchSize = n
	}
}

// Embed generates embeddings for the given texts, one request per batch.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}
	return embeddings, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: e.model,
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("failed to generate embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	// Results may arrive out of order; Index refers to the input position.
	out := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, fmt.Errorf("failed to generate embeddings: index %d out of range", data.Index)
		}
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		out[data.Index] = vec
	}
	return out, nil
}
