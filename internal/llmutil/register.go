// Package llmutil wires the built-in embedding providers into a factory.
package llmutil

import (
	"fmt"

	"github.com/efebarandurmaz/pokedex/internal/config"
	"github.com/efebarandurmaz/pokedex/internal/llm"
	"github.com/efebarandurmaz/pokedex/internal/llm/hash"
	"github.com/efebarandurmaz/pokedex/internal/llm/openai"
	"github.com/efebarandurmaz/pokedex/internal/vector"
)

// RegisterDefaultProviders registers all built-in embedding provider
// constructors (openai, every OpenAI-compatible preset, custom and hash)
// into factory. Both cmd/pokedex and cmd/worker call this.
func RegisterDefaultProviders(factory *llm.ProviderFactory) {
	for _, p := range []struct{ name, url string }{
		{"openai", llm.KnownProviders["openai"]},
		{"huggingface", llm.KnownProviders["huggingface"]},
		{"ollama", llm.KnownProviders["ollama"]},
		{"together", llm.KnownProviders["together"]},
		{"custom", ""},
	} {
		factory.Register(p.name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = p.url
			}
			opts := []openai.Option{openai.WithName(p.name), openai.WithTimeout(c.Timeout)}
			if c.Dimension > 0 && c.Model != "" && c.Model != openai.DefaultModel {
				opts = append(opts, openai.WithDimensions(c.Dimension))
			}
			return openai.New(c.APIKey, c.Model, base, opts...), nil
		})
	}
	factory.Register("hash", func(c llm.ProviderConfig) (llm.Provider, error) {
		return hash.New(c.Dimension), nil
	})
}

// NewProvider builds a provider from cfg using the default registrations.
func NewProvider(cfg llm.ProviderConfig) (llm.Provider, error) {
	f := llm.NewFactory()
	RegisterDefaultProviders(f)
	return f.Create(cfg)
}

// NewEmbedder builds the configured provider and wraps it in an Embedder
// that enforces the configured dimension.
func NewEmbedder(cfg *config.Config) (*vector.Embedder, error) {
	provider, err := NewProvider(cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	return vector.NewEmbedder(provider, cfg.Embedding.Dimension), nil
}
