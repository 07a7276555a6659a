package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"github.com/efebarandurmaz/pokedex/internal/backend"
	"github.com/efebarandurmaz/pokedex/internal/config"
	"github.com/efebarandurmaz/pokedex/internal/llm"
	"github.com/efebarandurmaz/pokedex/internal/llmutil"
	"github.com/efebarandurmaz/pokedex/internal/observability"
	"github.com/efebarandurmaz/pokedex/internal/server"
	temporalmod "github.com/efebarandurmaz/pokedex/internal/temporal"
	"github.com/efebarandurmaz/pokedex/internal/vector"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "pokedex",
		Short:         "Semantic search over a Pokédex catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (defaults plus POKEDEX_* environment when empty)")

	var (
		maxDistance float64
		limit       int
		jsonOutput  bool
	)
	searchCmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find the catalog entries closest to a description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts vector.SearchOptions
			if cmd.Flags().Changed("max-distance") {
				opts.MaxDistance = &maxDistance
			}
			if cmd.Flags().Changed("limit") {
				opts.Limit = limit
				if limit == 0 {
					opts.Limit = -1
				}
			}
			return runSearch(cmd.Context(), configPath, strings.Join(args, " "), opts, jsonOutput)
		},
	}
	searchCmd.Flags().Float64Var(&maxDistance, "max-distance", vector.DefaultMaxDistance, "Exclusive upper bound on cosine distance")
	searchCmd.Flags().IntVar(&limit, "limit", vector.DefaultLimit, "Maximum number of matches")
	searchCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print matches as JSON")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API with health endpoints and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	var (
		inputPath   string
		batchSize   int
		useTemporal bool
	)
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Embed source records and write them to the catalog store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), configPath, inputPath, batchSize, useTemporal)
		},
	}
	indexCmd.Flags().StringVar(&inputPath, "input", "", "JSON file of {id, name, text} records")
	indexCmd.Flags().IntVar(&batchSize, "batch-size", vector.DefaultBatchSize, "Records per embedding call")
	indexCmd.Flags().BoolVar(&useTemporal, "temporal", false, "Submit the run as a Temporal workflow")
	_ = indexCmd.MarkFlagRequired("input")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available embedding providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available embedding providers:")
			fmt.Println()
			for _, name := range []string{"openai", "huggingface", "ollama", "together"} {
				fmt.Printf("  %-14s %s\n", name, llm.KnownProviders[name])
			}
			fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println("  hash           (offline feature hashing, no network)")
			fmt.Println()
			fmt.Println("Configure in pokedex.yaml or via environment:")
			fmt.Println("  POKEDEX_EMBEDDING_PROVIDER=ollama")
			fmt.Println("  POKEDEX_EMBEDDING_MODEL=nomic-embed-text")
			fmt.Println("  POKEDEX_EMBEDDING_DIMENSION=768")
		},
	}

	rootCmd.AddCommand(searchCmd, serveCmd, indexCmd, providersCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openStore opens the backend and an embedder sized to it. An unset
// embedding dimension is taken from the catalog.
func openStore(ctx context.Context, cfg *config.Config) (*backend.Backend, *vector.Embedder, error) {
	b, err := backend.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = b.Dimension()
	}
	emb, err := llmutil.NewEmbedder(cfg)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return b, emb, nil
}

// setup loads configuration and builds the logger used by every command.
func setup(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newService wires the embedder and the configured search strategy.
func newService(ctx context.Context, cfg *config.Config, recorder vector.Recorder) (*vector.Service, *vector.Embedder, *backend.Backend, error) {
	b, emb, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	searcher, err := b.Searcher(cfg.Search.Strategy)
	if err != nil {
		b.Close()
		return nil, nil, nil, err
	}
	strategy := "scan"
	if cfg.Search.Strategy == "store" {
		strategy = b.Name
	}

	opts := []vector.ServiceOption{
		vector.WithDefaults(cfg.Search.MaxDistance, cfg.Search.Limit),
		vector.WithStrategyName(strategy),
	}
	if recorder != nil {
		opts = append(opts, vector.WithRecorder(recorder))
	}
	return vector.NewService(emb, searcher, opts...), emb, b, nil
}

func runSearch(ctx context.Context, configPath, text string, opts vector.SearchOptions, jsonOutput bool) error {
	cfg, _, err := setup(configPath)
	if err != nil {
		return err
	}
	svc, _, b, err := newService(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer b.Close()

	matches, err := svc.Search(ctx, text, opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(matches)
	}
	if len(matches) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDISTANCE")
	for _, m := range matches {
		fmt.Fprintf(tw, "%d\t%s\t%.4f\n", m.ID, m.Name, m.Distance)
	}
	return tw.Flush()
}

func runServe(configPath string) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()

	tp, err := observability.InitTracing(ctx, cfg.TracingConfig())
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics(true)

	svc, emb, b, err := newService(ctx, cfg, metrics)
	if err != nil {
		return err
	}

	shutdownCfg := server.DefaultShutdownConfig()
	shutdownCfg.Logger = logger
	gs := server.NewGracefulServer(&server.HealthConfig{Version: "0.1.0"}, shutdownCfg)
	gs.Health.RegisterCheck("store", server.StoreHealthChecker(b.Name, b.HealthFunc()))
	gs.Health.RegisterCheck("embedding", server.EmbeddingHealthChecker(emb.Provider(), nil))

	for _, hook := range []server.ShutdownHook{
		server.StoreShutdownHook(b.Close),
		server.TracingShutdownHook(tp.Shutdown),
	} {
		gs.RegisterHook(hook.Name, hook.Priority, hook.Fn)
	}

	handler := server.NewHandler(server.NewAPI(svc, metrics, logger), gs.Health)
	if err := gs.Start(cfg.Server.Addr, handler); err != nil {
		b.Close()
		return err
	}
	if n, ok := b.Size(); ok && n == 0 {
		logger.Warn("catalog is empty; searches return no matches until it is indexed")
	}
	logger.Info("serving", "addr", gs.Addr().String(), "backend", b.Name, "strategy", cfg.Search.Strategy, "provider", emb.Provider())

	gs.Wait()
	logger.Info("server stopped")
	return nil
}

func runIndex(ctx context.Context, configPath, inputPath string, batchSize int, useTemporal bool) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	sources, err := vector.LoadSourceFile(inputPath)
	if err != nil {
		return err
	}

	start := time.Now()
	if useTemporal {
		c, err := temporalclient.Dial(temporalclient.Options{
			HostPort:  cfg.Temporal.Host,
			Namespace: cfg.Temporal.Namespace,
			Logger:    temporallog.NewStructuredLogger(logger),
		})
		if err != nil {
			return fmt.Errorf("temporal client: %w", err)
		}
		defer c.Close()

		out, err := temporalmod.RunIndexWorkflow(ctx, c, cfg.Temporal.TaskQueue, temporalmod.IndexInput{
			Sources:   sources,
			BatchSize: batchSize,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d records in %d batches via Temporal (%s)\n", out.Indexed, out.Batches, time.Since(start).Round(time.Millisecond))
		return nil
	}

	b, emb, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Prepare(ctx); err != nil {
		return fmt.Errorf("preparing %s store: %w", b.Name, err)
	}
	n, err := vector.NewIndexer(emb, b.Upserter(), batchSize).Index(ctx, sources)
	if err != nil {
		return fmt.Errorf("indexed %d of %d records: %w", n, len(sources), err)
	}
	fmt.Printf("Indexed %d records into %s (%s)\n", n, b.Name, time.Since(start).Round(time.Millisecond))
	return nil
}
