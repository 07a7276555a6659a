package temporal

import (
	"fmt"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/efebarandurmaz/pokedex/internal/vector"
)

// IndexInput holds the workflow parameters.
type IndexInput struct {
	Sources   []vector.SourceRecord
	BatchSize int // <= 0 uses vector.DefaultBatchSize
}

// IndexOutput holds the workflow result.
type IndexOutput struct {
	Indexed int
	Batches int
}

// DefaultRetryPolicy applies to every indexing activity. Provider rate
// limits and store restarts are the expected transient failures.
var DefaultRetryPolicy = &sdktemporal.RetryPolicy{
	InitialInterval:    time.Second,
	BackoffCoefficient: 2.0,
	MaximumInterval:    time.Minute,
	MaximumAttempts:    5,
	NonRetryableErrorTypes: []string{
		ErrTypeInvalidInput,
		ErrTypeDimensionMismatch,
	},
}

// IndexCatalogWorkflow embeds and stores a catalog one batch at a time.
// Batches run in order so a failure leaves a well-defined prefix indexed.
func IndexCatalogWorkflow(ctx workflow.Context, input IndexInput) (*IndexOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         DefaultRetryPolicy,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var a *Activities
	if err := workflow.ExecuteActivity(ctx, a.EnsureStore).Get(ctx, nil); err != nil {
		return nil, fmt.Errorf("ensure store: %w", err)
	}

	out := &IndexOutput{}
	for i, batch := range vector.Batches(input.Sources, input.BatchSize) {
		var n int
		if err := workflow.ExecuteActivity(ctx, a.IndexBatch, batch).Get(ctx, &n); err != nil {
			return out, fmt.Errorf("batch %d: %w", i, err)
		}
		out.Indexed += n
		out.Batches++
	}

	logger.Info("catalog indexed", "records", out.Indexed, "batches", out.Batches)
	return out, nil
}
