package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// MemoryCatalog is an insertion-ordered in-memory catalog.
type MemoryCatalog struct {
	mu        sync.RWMutex
	records   []Record
	index     map[int64]int // id -> position in records
	dimension int
}

// NewMemoryCatalog creates an empty catalog. A dimension of 0 is fixed by
// the first record written.
func NewMemoryCatalog(dimension int) *MemoryCatalog {
	return &MemoryCatalog{
		index:     make(map[int64]int),
		dimension: dimension,
	}
}

// LoadCatalogFile reads a JSON array of records with embeddings.
// Duplicate IDs in the file are rejected.
func LoadCatalogFile(path string, dimension int) (*MemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	seen := make(map[int64]bool, len(records))
	for _, r := range records {
		if seen[r.ID] {
			return nil, fmt.Errorf("catalog %s: duplicate id %d", path, r.ID)
		}
		seen[r.ID] = true
	}

	c := NewMemoryCatalog(dimension)
	if err := c.Upsert(context.Background(), records); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// SaveCatalogFile writes records as a JSON array.
func SaveCatalogFile(path string, records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Upsert inserts new records at the end and replaces existing ones in place.
// The batch is applied only if every record is valid.
func (c *MemoryCatalog) Upsert(_ context.Context, records []Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dim := c.dimension
	for _, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("record %d: empty embedding", r.ID)
		}
		if dim == 0 {
			dim = len(r.Embedding)
		}
		if len(r.Embedding) != dim {
			return fmt.Errorf("record %d: %w: got %d, want %d",
				r.ID, ErrDimensionMismatch, len(r.Embedding), dim)
		}
	}

	c.dimension = dim
	for _, r := range records {
		r.Embedding = append([]float32(nil), r.Embedding...)
		if pos, ok := c.index[r.ID]; ok {
			c.records[pos] = r
			continue
		}
		c.index[r.ID] = len(c.records)
		c.records = append(c.records, r)
	}
	return nil
}

// Records implements Catalog. The returned slice is a copy; embeddings are
// shared and must not be modified.
func (c *MemoryCatalog) Records(_ context.Context) ([]Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out, nil
}

// Len returns the number of records.
func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Dimension returns the catalog's embedding dimension, 0 while empty and unset.
func (c *MemoryCatalog) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

var (
	_ Catalog  = (*MemoryCatalog)(nil)
	_ Upserter = (*MemoryCatalog)(nil)
)
