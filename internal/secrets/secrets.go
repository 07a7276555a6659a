// Package secrets resolves credentials from the environment, a local file or
// HashiCorp Vault so they can stay out of the config file.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Keys looked up by the pokedex binaries.
const (
	KeyEmbeddingAPIKey = "embedding_api_key"
	KeyPostgresDSN     = "postgres_dsn"
)

// ErrNotFound is returned when no backend holds the key.
var ErrNotFound = errors.New("secret not found")

// Provider is a read-only secret backend.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Name() string
}

// Config selects the primary backend. The environment is always consulted
// as a fallback.
type Config struct {
	// Provider is "env", "file" or "vault".
	Provider    string
	VaultConfig *VaultConfig
	FileConfig  *FileConfig
	// EnvPrefix for environment variable names (default: "POKEDEX_")
	EnvPrefix string
}

// DefaultConfig returns env-only configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:  "env",
		EnvPrefix: "POKEDEX_",
	}
}

// Manager looks keys up in the primary backend, then the environment, and
// caches hits.
type Manager struct {
	primary  Provider
	fallback Provider

	mu    sync.RWMutex
	cache map[string]string
}

// NewManager creates a manager for cfg.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	env := NewEnvProvider(cfg.EnvPrefix)
	m := &Manager{cache: make(map[string]string)}

	switch cfg.Provider {
	case "vault":
		if cfg.VaultConfig == nil {
			return nil, fmt.Errorf("vault config required for vault provider")
		}
		p, err := NewVaultProvider(cfg.VaultConfig)
		if err != nil {
			return nil, fmt.Errorf("create vault provider: %w", err)
		}
		m.primary, m.fallback = p, env
	case "file":
		if cfg.FileConfig == nil {
			return nil, fmt.Errorf("file config required for file provider")
		}
		p, err := NewFileProvider(cfg.FileConfig)
		if err != nil {
			return nil, fmt.Errorf("create file provider: %w", err)
		}
		m.primary, m.fallback = p, env
	case "env", "":
		m.primary = env
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}
	return m, nil
}

// Name returns the primary backend name.
func (m *Manager) Name() string { return m.primary.Name() }

// Get retrieves a secret, trying primary then fallback.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	val, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return val, nil
	}

	val, err := m.primary.Get(ctx, key)
	if (err != nil || val == "") && m.fallback != nil {
		if fv, ferr := m.fallback.Get(ctx, key); ferr == nil && fv != "" {
			val, err = fv, nil
		}
	}
	if err != nil {
		return "", err
	}
	if val == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	m.mu.Lock()
	m.cache[key] = val
	m.mu.Unlock()
	return val, nil
}

// Lookup returns the secret or "" when no backend has it. Other failures,
// such as an unreachable Vault, are returned.
func (m *Manager) Lookup(ctx context.Context, key string) (string, error) {
	val, err := m.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return val, err
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-based secrets provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "POKEDEX_"
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

// Get tries PREFIX_KEY, then KEY.
func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	envKey := p.prefix + strings.ToUpper(key)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	if val := os.Getenv(strings.ToUpper(key)); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("%w: env %s", ErrNotFound, envKey)
}
