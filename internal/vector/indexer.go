package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/efebarandurmaz/pokedex/internal/observability"
)

// DefaultBatchSize is the number of texts sent per embedding call.
const DefaultBatchSize = 64

// Indexer builds a catalog by embedding source records and upserting them.
type Indexer struct {
	embedder  *Embedder
	store     Upserter
	batchSize int
	logger    *slog.Logger
}

// NewIndexer creates an Indexer. batchSize <= 0 uses DefaultBatchSize.
func NewIndexer(embedder *Embedder, store Upserter, batchSize int) *Indexer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Indexer{
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		logger:    slog.Default(),
	}
}

// Index embeds and stores every record, one batch at a time. It returns the
// number of records written before any error.
func (ix *Indexer) Index(ctx context.Context, sources []SourceRecord) (int, error) {
	ctx, span := observability.StartIndexSpan(ctx, len(sources))
	defer span.End()

	written := 0
	for _, batch := range Batches(sources, ix.batchSize) {
		records, err := EmbedSources(ctx, ix.embedder, batch)
		if err != nil {
			observability.RecordError(span, err)
			return written, err
		}
		if err := ix.store.Upsert(ctx, records); err != nil {
			if !errors.Is(err, ErrDimensionMismatch) {
				err = fmt.Errorf("%w: upsert: %w", ErrStoreUnavailable, err)
			}
			observability.RecordError(span, err)
			return written, err
		}
		written += len(records)
		ix.logger.Debug("indexed batch", "records", len(records), "total", written)
	}
	return written, nil
}

// EmbedSources embeds one batch of source records.
func EmbedSources(ctx context.Context, embedder *Embedder, batch []SourceRecord) ([]Record, error) {
	texts := make([]string, len(batch))
	for i, s := range batch {
		texts[i] = s.Text
		if texts[i] == "" {
			texts[i] = s.Name
		}
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	records := make([]Record, len(batch))
	for i, s := range batch {
		records[i] = Record{ID: s.ID, Name: s.Name, Embedding: vectors[i]}
	}
	return records, nil
}

// Batches splits sources into consecutive chunks of at most size.
func Batches(sources []SourceRecord, size int) [][]SourceRecord {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]SourceRecord
	for lo := 0; lo < len(sources); lo += size {
		out = append(out, sources[lo:min(lo+size, len(sources))])
	}
	return out
}

// LoadSourceFile reads a JSON array of source records.
func LoadSourceFile(path string) ([]SourceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source records: %w", err)
	}
	var sources []SourceRecord
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("parsing source records %s: %w", path, err)
	}
	return sources, nil
}
