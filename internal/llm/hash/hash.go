// Package hash provides an offline embedding provider based on feature
// hashing. It needs no network access and is deterministic, which makes it
// suitable for tests, demos and air-gapped catalogs. Its vectors only capture
// word overlap, not meaning.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/efebarandurmaz/pokedex/internal/llm"
)

// DefaultDimension is used when no dimension is configured.
const DefaultDimension = 256

// Provider maps each token of a text to a signed bucket and L2-normalizes
// the result.
type Provider struct {
	dimension int
}

// New creates a hashing provider with the given output size.
func New(dimension int) *Provider {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Provider{dimension: dimension}
}

func (p *Provider) Name() string { return "hash" }

// Dimension returns the output vector size.
func (p *Provider) Dimension() int { return p.dimension }

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *Provider) vector(text string) []float32 {
	v := make([]float32, p.dimension)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(p.dimension))
		if sum&(1<<63) != 0 {
			v[bucket]--
		} else {
			v[bucket]++
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

var _ llm.Provider = (*Provider)(nil)
