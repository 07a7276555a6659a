package llm

import (
	"fmt"
	"sort"
	"time"
)

// ProviderConfig holds all configuration needed to create any embedding provider.
type ProviderConfig struct {
	Provider  string // "openai", "ollama", "hash", "custom", ...
	APIKey    string
	Model     string // embedding model
	BaseURL   string // override for self-hosted / custom endpoints
	Dimension int    // requested output size, where the provider supports it

	// Timeout bounds one provider call. MaxRetries > 0 enables the retry
	// wrapper; the search path leaves it at 0 so failures surface directly.
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	// RequestsPerMinute > 0 enables client-side rate limiting.
	RequestsPerMinute int
}

// DefaultProviderConfig returns a config with sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    30 * time.Second,
		RetryDelay: 500 * time.Millisecond,
	}
}

// ProviderFactory creates Provider instances from config.
type ProviderFactory struct {
	constructors map[string]ProviderConstructor
}

// ProviderConstructor builds a Provider from config.
type ProviderConstructor func(cfg ProviderConfig) (Provider, error)

// NewFactory creates an empty factory.
func NewFactory() *ProviderFactory {
	return &ProviderFactory{
		constructors: make(map[string]ProviderConstructor),
	}
}

// Register adds a provider constructor under the given name.
func (f *ProviderFactory) Register(name string, ctor ProviderConstructor) {
	f.constructors[name] = ctor
}

// Create builds a Provider from config and applies the configured
// decorators: retry innermost, then rate limiting.
func (f *ProviderFactory) Create(cfg ProviderConfig) (Provider, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, fmt.Errorf("an embedding provider is required (registered: %v)", f.Names())
	}

	ctor, ok := f.constructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q (registered: %v)", cfg.Provider, f.Names())
	}

	provider, err := ctor(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.MaxRetries > 0 {
		provider = WrapWithRetry(provider, cfg)
	}
	if cfg.RequestsPerMinute > 0 {
		provider = WithRateLimit(provider, &RateLimitConfig{RequestsPerMinute: cfg.RequestsPerMinute})
	}
	return provider, nil
}

// Names lists the registered providers in sorted order.
func (f *ProviderFactory) Names() []string {
	out := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KnownProviders documents the built-in OpenAI-compatible presets.
//
//	openai     → https://api.openai.com/v1
//	ollama     → http://localhost:11434/v1
//	together   → https://api.together.xyz/v1
//	huggingface→ https://api-inference.huggingface.co/v1
var KnownProviders = map[string]string{
	"openai":      "https://api.openai.com/v1",
	"ollama":      "http://localhost:11434/v1",
	"together":    "https://api.together.xyz/v1",
	"huggingface": "https://api-inference.huggingface.co/v1",
}
