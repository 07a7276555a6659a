package vector

import (
	"context"
	"fmt"
	"math"
)

// Record is a catalog entry with its stored embedding.
type Record struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Embedding []float32 `json:"embedding"`
}

// SourceRecord is a catalog entry before it has been embedded.
type SourceRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// Match is a single search hit. Lower distance means more similar.
type Match struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// Query describes one similarity search.
type Query struct {
	Vector      []float32
	MaxDistance float64 // exclusive upper bound on cosine distance
	Limit       int
}

// Validate checks the query preconditions shared by every Searcher.
func (q Query) Validate() error {
	if len(q.Vector) == 0 {
		return fmt.Errorf("%w: empty query vector", ErrInvalidInput)
	}
	return ValidateBounds(q.MaxDistance, q.Limit)
}

// ValidateBounds checks a threshold and limit pair.
func ValidateBounds(maxDistance float64, limit int) error {
	if math.IsNaN(maxDistance) || maxDistance < 0 {
		return fmt.Errorf("%w: max distance must be a non-negative number, got %v", ErrInvalidInput, maxDistance)
	}
	if limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidInput, limit)
	}
	return nil
}

// Catalog gives read access to every stored record.
type Catalog interface {
	// Records returns all records in a stable order.
	Records(ctx context.Context) ([]Record, error)
}

// Searcher runs a similarity query, either in-process or inside a store.
type Searcher interface {
	// Search returns matches with distance < MaxDistance, ascending, at most Limit.
	Search(ctx context.Context, q Query) ([]Match, error)
}

// Upserter writes embedded records into a catalog.
type Upserter interface {
	Upsert(ctx context.Context, records []Record) error
}
