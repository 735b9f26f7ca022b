// Package embed wraps an OpenAI-compatible embeddings endpoint behind the
// encode / encode-batch contract used by the indexing and retrieval paths.
package embed

import (
	"context"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

// Encoder embeds text through an OpenAI-compatible embeddings API. Returned
// vectors are L2-normalized so cosine distance behaves on the index side.
type Encoder struct {
	client *openai.Client
	model  string
	dim    int
}

// New builds an Encoder. baseURL may point at any OpenAI-compatible server;
// empty keeps the upstream default endpoint.
func New(baseURL, apiKey, model string, dim int) *Encoder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Encoder{client: openai.NewClientWithConfig(cfg), model: model, dim: dim}
}

// Dimension returns the configured vector dimensionality.
func (e *Encoder) Dimension() int { return e.dim }

// Encode embeds a single text.
func (e *Encoder) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch embeds texts in one request, preserving input order.
func (e *Encoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embeddings API returned index %d out of range", d.Index)
		}
		v := append([]float32(nil), d.Embedding...)
		l2normalize(v)
		vecs[d.Index] = v
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("embeddings API returned no vector for input %d", i)
		}
	}
	return vecs, nil
}

// l2normalize scales a vector to unit length in place.
func l2normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}
