package temporal

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/pokedex/internal/observability"
	"github.com/efebarandurmaz/pokedex/internal/vector"
)

// Error types reported to Temporal for failures that retrying cannot fix.
const (
	ErrTypeInvalidInput      = "InvalidInput"
	ErrTypeDimensionMismatch = "DimensionMismatch"
)

// Activities holds the resources the indexing activities share. Register a
// single instance with the worker.
type Activities struct {
	Embedder *vector.Embedder
	Store    vector.Upserter
	// Prepare creates the table or collection; nil for in-process stores.
	Prepare func(ctx context.Context) error
	// Metrics is optional.
	Metrics *observability.Metrics
}

// EnsureStore prepares the catalog store before the first batch is written.
func (a *Activities) EnsureStore(ctx context.Context) error {
	if a.Prepare == nil {
		return nil
	}
	if err := a.Prepare(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// IndexBatch embeds one batch of source records and upserts the result. It
// returns the number of records written.
func (a *Activities) IndexBatch(ctx context.Context, batch []vector.SourceRecord) (int, error) {
	logger := activity.GetLogger(ctx)

	records, err := vector.EmbedSources(ctx, a.Embedder, batch)
	if err != nil {
		return 0, classify(err)
	}
	if err := a.Store.Upsert(ctx, records); err != nil {
		if !errors.Is(err, vector.ErrDimensionMismatch) && !errors.Is(err, vector.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: upsert: %w", vector.ErrStoreUnavailable, err)
		}
		return 0, classify(err)
	}

	if a.Metrics != nil {
		a.Metrics.ObserveIndexed(len(records))
	}
	logger.Info("indexed batch", "records", len(records))
	return len(records), nil
}

// classify marks errors that no retry can fix as non-retryable.
func classify(err error) error {
	switch {
	case errors.Is(err, vector.ErrDimensionMismatch):
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), ErrTypeDimensionMismatch, err)
	case errors.Is(err, vector.ErrInvalidInput):
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	default:
		return err
	}
}
