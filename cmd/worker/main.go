package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	temporalclient "go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"github.com/efebarandurmaz/pokedex/internal/backend"
	"github.com/efebarandurmaz/pokedex/internal/config"
	"github.com/efebarandurmaz/pokedex/internal/llmutil"
	"github.com/efebarandurmaz/pokedex/internal/observability"
	"github.com/efebarandurmaz/pokedex/internal/server"
	temporalmod "github.com/efebarandurmaz/pokedex/internal/temporal"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx := context.Background()
	tp, err := observability.InitTracing(ctx, cfg.TracingConfig())
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	b, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = b.Dimension()
	}
	emb, err := llmutil.NewEmbedder(cfg)
	if err != nil {
		log.Fatalf("embedder: %v", err)
	}

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporallog.NewStructuredLogger(logger),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	metrics := observability.NewMetrics(true)
	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue, &temporalmod.Activities{
		Embedder: emb,
		Store:    b.Upserter(),
		Prepare:  b.PrepareFunc(),
		Metrics:  metrics,
	})
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	fmt.Printf("Worker started on task queue: %s\n", cfg.Temporal.TaskQueue)

	shutdownCfg := server.DefaultShutdownConfig()
	shutdownCfg.Logger = logger
	gs := server.NewGracefulServer(&server.HealthConfig{Version: "0.1.0"}, shutdownCfg)
	gs.Health.RegisterCheck("temporal", server.TemporalHealthChecker(func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return err
	}))
	gs.Health.RegisterCheck("store", server.StoreHealthChecker(b.Name, b.HealthFunc()))
	for _, hook := range []server.ShutdownHook{
		server.TemporalWorkerShutdownHook(w.Stop),
		server.StoreShutdownHook(b.Close),
		server.TracingShutdownHook(tp.Shutdown),
	} {
		gs.RegisterHook(hook.Name, hook.Priority, hook.Fn)
	}

	mux := http.NewServeMux()
	gs.Health.Register(mux)
	mux.Handle("/metrics", metrics.Handler())

	if err := gs.Start(cfg.Temporal.WorkerAddr, mux); err != nil {
		log.Fatalf("health server: %v", err)
	}

	gs.Wait()
	fmt.Println("Worker stopped")
}
