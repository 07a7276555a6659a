package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/efebarandurmaz/pokedex/internal/llm"
	"github.com/efebarandurmaz/pokedex/internal/observability"
	"github.com/efebarandurmaz/pokedex/internal/secrets"
)

// Config holds all application configuration.
type Config struct {
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
	Store     StoreConfig     `mapstructure:"store"`
	Server    ServerConfig    `mapstructure:"server"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
}

type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	BaseURL   string        `mapstructure:"base_url"`
	Dimension int           `mapstructure:"dimension"`
	Timeout   time.Duration `mapstructure:"timeout"`

	// MaxRetries stays 0 for interactive search; the indexer may raise it.
	MaxRetries        int `mapstructure:"max_retries"`
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

type SearchConfig struct {
	MaxDistance float64 `mapstructure:"max_distance"`
	Limit       int     `mapstructure:"limit"`
	// Strategy is "scan" (in-process) or "store" (delegate to the backend).
	Strategy string `mapstructure:"strategy"`
}

type StoreConfig struct {
	// Backend is "memory", "postgres" or "qdrant".
	Backend     string         `mapstructure:"backend"`
	CatalogFile string         `mapstructure:"catalog_file"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	Qdrant      QdrantConfig   `mapstructure:"qdrant"`
}

type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
	// DumpSQL, when set, receives every similarity query with its
	// parameters interpolated.
	DumpSQL string `mapstructure:"dump_sql"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
	// WorkerAddr serves the worker's health endpoints and metrics.
	WorkerAddr string `mapstructure:"worker_addr"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// SecretsConfig names where credentials missing from the file are looked
// up. The environment is always a fallback.
type SecretsConfig struct {
	// Provider is "env", "file" or "vault".
	Provider string      `mapstructure:"provider"`
	File     string      `mapstructure:"file"`
	Vault    VaultConfig `mapstructure:"vault"`
}

type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Mount   string `mapstructure:"mount"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"embedding.provider":            "openai",
	"embedding.api_key":             "",
	"embedding.model":               "",
	"embedding.base_url":            "",
	"embedding.dimension":           1536,
	"embedding.timeout":             "30s",
	"embedding.max_retries":         0,
	"embedding.requests_per_minute": 0,
	"search.max_distance":           0.5,
	"search.limit":                  8,
	"search.strategy":               "scan",
	"store.backend":                 "memory",
	"store.catalog_file":            "",
	"store.postgres.dsn":            "",
	"store.postgres.table":          "pokemon",
	"store.postgres.dump_sql":       "",
	"store.qdrant.host":             "localhost",
	"store.qdrant.port":             6334,
	"store.qdrant.collection":       "pokemon",
	"server.addr":                   ":8080",
	"temporal.host":                 "localhost:7233",
	"temporal.namespace":            "default",
	"temporal.task_queue":           "pokedex-index",
	"temporal.worker_addr":          ":8081",
	"tracing.otlp_endpoint":         "",
	"tracing.service_name":          "pokedex",
	"tracing.sample_rate":           1.0,
	"log.level":                     "info",
	"log.format":                    "text",
	"secrets.provider":              "env",
	"secrets.file":                  "",
	"secrets.vault.address":         "",
	"secrets.vault.token":           "",
	"secrets.vault.mount":           "secret",
	"secrets.vault.path":            "pokedex",
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("POKEDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	var cfg Config
	// Unmarshalling known defaults cannot fail.
	_ = newViper().Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from file and environment. An empty path uses
// defaults and POKEDEX_* environment variables only.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := cfg.ResolveSecrets(ctx); err != nil {
		return nil, err
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	for _, warning := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	return &cfg, nil
}

// Validate checks configuration for soft issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if needsAPIKey(c.Embedding.Provider) && c.Embedding.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("embedding provider '%s' is configured but api_key is empty", c.Embedding.Provider))
	}
	if c.Search.MaxDistance > 1 {
		warnings = append(warnings, fmt.Sprintf("search max_distance %.2f admits vectors pointing away from the query", c.Search.MaxDistance))
	}
	if c.Store.Backend == "memory" && c.Store.CatalogFile == "" {
		warnings = append(warnings, "memory store has no catalog_file; searches will return no matches until indexed")
	}
	if c.Embedding.MaxRetries > 0 {
		warnings = append(warnings, fmt.Sprintf("embedding max_retries=%d also applies to interactive searches", c.Embedding.MaxRetries))
	}

	return warnings
}

// Check returns an error for configuration that cannot work.
func (c *Config) Check() error {
	var errs []error

	if c.Embedding.Provider == "" || c.Embedding.Provider == "none" {
		errs = append(errs, errors.New("embedding.provider is required"))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension %d is negative", c.Embedding.Dimension))
	}
	if math.IsNaN(c.Search.MaxDistance) || c.Search.MaxDistance < 0 {
		errs = append(errs, fmt.Errorf("search.max_distance %v must be non-negative", c.Search.MaxDistance))
	}
	if c.Search.Limit <= 0 {
		errs = append(errs, fmt.Errorf("search.limit %d must be positive", c.Search.Limit))
	}
	switch c.Search.Strategy {
	case "scan", "store":
	default:
		errs = append(errs, fmt.Errorf("search.strategy %q must be scan or store", c.Search.Strategy))
	}
	switch c.Store.Backend {
	case "memory":
		if c.Search.Strategy == "store" {
			errs = append(errs, errors.New("search.strategy=store needs a postgres or qdrant backend"))
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn is required for the postgres backend"))
		}
	case "qdrant":
		if c.Store.Qdrant.Host == "" || c.Store.Qdrant.Port <= 0 {
			errs = append(errs, errors.New("store.qdrant.host and port are required for the qdrant backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be memory, postgres or qdrant", c.Store.Backend))
	}

	return errors.Join(errs...)
}

// ResolveSecrets fills an empty embedding api_key and postgres dsn from the
// configured secrets backend.
func (c *Config) ResolveSecrets(ctx context.Context) error {
	m, err := secrets.NewManager(c.SecretsConfig())
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	for _, s := range []struct {
		key string
		dst *string
	}{
		{secrets.KeyEmbeddingAPIKey, &c.Embedding.APIKey},
		{secrets.KeyPostgresDSN, &c.Store.Postgres.DSN},
	} {
		if *s.dst != "" {
			continue
		}
		val, err := m.Lookup(ctx, s.key)
		if err != nil {
			return fmt.Errorf("secrets: %s: %w", s.key, err)
		}
		*s.dst = val
	}
	return nil
}

// SecretsConfig converts the secrets section for secrets.NewManager.
func (c *Config) SecretsConfig() *secrets.Config {
	sc := secrets.DefaultConfig()
	sc.Provider = c.Secrets.Provider
	switch c.Secrets.Provider {
	case "file":
		sc.FileConfig = &secrets.FileConfig{Path: c.Secrets.File}
	case "vault":
		sc.VaultConfig = &secrets.VaultConfig{
			Address:    c.Secrets.Vault.Address,
			Token:      c.Secrets.Vault.Token,
			MountPath:  c.Secrets.Vault.Mount,
			SecretPath: c.Secrets.Vault.Path,
		}
	}
	return sc
}

func needsAPIKey(provider string) bool {
	switch provider {
	case "openai", "together", "huggingface":
		return true
	}
	return false
}

// ProviderConfig converts the embedding section for llm.ProviderFactory.
func (c *Config) ProviderConfig() llm.ProviderConfig {
	pc := llm.DefaultProviderConfig()
	pc.Provider = c.Embedding.Provider
	pc.APIKey = c.Embedding.APIKey
	pc.Model = c.Embedding.Model
	pc.BaseURL = c.Embedding.BaseURL
	pc.Dimension = c.Embedding.Dimension
	if c.Embedding.Timeout > 0 {
		pc.Timeout = c.Embedding.Timeout
	}
	pc.MaxRetries = c.Embedding.MaxRetries
	pc.RequestsPerMinute = c.Embedding.RequestsPerMinute
	return pc
}

// TracingConfig converts the tracing section for observability.InitTracing.
func (c *Config) TracingConfig() *observability.TracingConfig {
	tc := observability.DefaultTracingConfig()
	tc.OTLPEndpoint = c.Tracing.OTLPEndpoint
	if c.Tracing.ServiceName != "" {
		tc.ServiceName = c.Tracing.ServiceName
	}
	tc.SampleRate = c.Tracing.SampleRate
	return tc
}
