package vector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/efebarandurmaz/pokedex/internal/llm"
	"github.com/efebarandurmaz/pokedex/internal/observability"
)

// Embedder turns text into vectors through an LLM provider.
type Embedder struct {
	provider  llm.Provider
	dimension int // 0 accepts whatever the provider returns
}

// NewEmbedder creates an Embedder. A positive dimension is enforced on every
// vector the provider returns.
func NewEmbedder(provider llm.Provider, dimension int) *Embedder {
	return &Embedder{provider: provider, dimension: dimension}
}

// Dimension returns the enforced dimensionality, or 0 when unchecked.
func (e *Embedder) Dimension() int { return e.dimension }

// Provider returns the provider name.
func (e *Embedder) Provider() string { return e.provider.Name() }

// Embed returns the embedding of a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one provider call. Failures are not retried here.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = normalizeInput(t)
	}

	ctx, span := observability.StartEmbedSpan(ctx, e.provider.Name(), len(inputs))
	defer span.End()

	start := time.Now()
	vectors, err := e.provider.Embed(ctx, inputs)
	observability.RecordEmbedResult(span, len(vectors), time.Since(start))
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrEmbeddingUnavailable, e.provider.Name(), err)
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("%w: embedding count mismatch: got %d, want %d",
			ErrEmbeddingUnavailable, len(vectors), len(inputs))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty vector for input %d", ErrEmbeddingUnavailable, i)
		}
		if e.dimension > 0 && len(v) != e.dimension {
			return nil, fmt.Errorf("%w: provider returned %d dimensions, want %d",
				ErrDimensionMismatch, len(v), e.dimension)
		}
	}
	return vectors, nil
}

// normalizeInput replaces newlines with spaces; embedding models score
// literal newlines differently.
func normalizeInput(text string) string {
	return strings.ReplaceAll(text, "\n", " ")
}
