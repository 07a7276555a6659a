package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// StartWorker creates and starts a Temporal worker hosting the indexing
// workflow and its activities.
func StartWorker(c client.Client, taskQueue string, acts *Activities) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(IndexCatalogWorkflow)
	w.RegisterActivity(acts)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}

// RunIndexWorkflow submits IndexCatalogWorkflow and waits for its result.
func RunIndexWorkflow(ctx context.Context, c client.Client, taskQueue string, input IndexInput) (*IndexOutput, error) {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("pokedex-index-%d", time.Now().UnixNano()),
		TaskQueue: taskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, IndexCatalogWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("starting index workflow: %w", err)
	}

	var out IndexOutput
	if err := run.Get(ctx, &out); err != nil {
		return nil, fmt.Errorf("index workflow %s: %w", run.GetID(), err)
	}
	return &out, nil
}
