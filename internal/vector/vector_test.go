package vector

import (
	"context"
	"errors"
	"sync"
)

// fakeProvider is an llm.Provider returning canned vectors keyed by input.
type fakeProvider struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   [][]string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			return nil, errors.New("no vector for " + t)
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// failingCatalog always fails to read.
type failingCatalog struct{ err error }

func (c failingCatalog) Records(context.Context) ([]Record, error) { return nil, c.err }

// scenarioCatalog holds the three-record catalog used across tests:
// Pikachu [1,0], Raichu [0.9,0.1], Bulbasaur [0,1].
func scenarioCatalog() *MemoryCatalog {
	c := NewMemoryCatalog(2)
	_ = c.Upsert(context.Background(), []Record{
		{ID: 25, Name: "Pikachu", Embedding: []float32{1, 0}},
		{ID: 26, Name: "Raichu", Embedding: []float32{0.9, 0.1}},
		{ID: 1, Name: "Bulbasaur", Embedding: []float32{0, 1}},
	})
	return c
}
