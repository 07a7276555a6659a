// Package backend opens the catalog store named in the configuration and
// exposes it through the vector package interfaces.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/efebarandurmaz/pokedex/internal/config"
	"github.com/efebarandurmaz/pokedex/internal/vector"
	"github.com/efebarandurmaz/pokedex/internal/vector/pgvector"
	"github.com/efebarandurmaz/pokedex/internal/vector/qdrant"
)

// storeSearcher is a backend that can evaluate similarity queries itself.
type storeSearcher interface {
	vector.Catalog
	vector.Searcher
	vector.Upserter
}

// Backend is an opened catalog store.
type Backend struct {
	Name string

	dimension int
	mem       *vector.MemoryCatalog // memory backend only
	catalog   vector.Catalog
	upserter  vector.Upserter
	searcher  vector.Searcher // nil when the store cannot search
	prepare   func(ctx context.Context) error
	health    func(ctx context.Context) error
	close     func() error
}

// Open connects to the configured backend. Postgres is pinged on open;
// Qdrant connects lazily.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	dim := cfg.Embedding.Dimension
	switch cfg.Store.Backend {
	case "memory":
		return openMemory(cfg.Store.CatalogFile, dim)
	case "postgres":
		s, err := pgvector.New(ctx, pgvector.Config{
			DSN:       cfg.Store.Postgres.DSN,
			Table:     cfg.Store.Postgres.Table,
			Dimension: dim,
			DumpSQL:   cfg.Store.Postgres.DumpSQL,
		})
		if err != nil {
			return nil, err
		}
		return fromStore("postgres", dim, s, s.EnsureSchema, s.Health, s.Close), nil
	case "qdrant":
		q := cfg.Store.Qdrant
		r, err := qdrant.New(q.Host, q.Port, q.Collection, dim)
		if err != nil {
			return nil, err
		}
		return fromStore("qdrant", dim, r, r.EnsureCollection, r.Health, r.Close), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func fromStore(name string, dim int, s storeSearcher, prepare, health func(context.Context) error, closeFn func() error) *Backend {
	return &Backend{
		Name:      name,
		dimension: dim,
		catalog:   s,
		upserter:  s,
		searcher:  s,
		prepare:   prepare,
		health:    health,
		close:     closeFn,
	}
}

// openMemory loads path if it exists. Writes are persisted back to path.
func openMemory(path string, dim int) (*Backend, error) {
	var mem *vector.MemoryCatalog
	if path == "" {
		mem = vector.NewMemoryCatalog(dim)
	} else {
		var err error
		mem, err = vector.LoadCatalogFile(path, dim)
		if errors.Is(err, fs.ErrNotExist) {
			mem, err = vector.NewMemoryCatalog(dim), nil
		}
		if err != nil {
			return nil, err
		}
	}
	return NewMemory(mem, path), nil
}

// NewMemory wraps an in-memory catalog. A non-empty path receives the full
// catalog after every write.
func NewMemory(mem *vector.MemoryCatalog, path string) *Backend {
	b := &Backend{
		Name:     "memory",
		mem:      mem,
		catalog:  mem,
		upserter: mem,
		close:    func() error { return nil },
	}
	if path != "" {
		b.upserter = &persistingCatalog{mem: mem, path: path}
	}
	return b
}

// Dimension returns the embedding dimension of the catalog. For the memory
// backend it is the loaded catalog's dimension when none was configured.
func (b *Backend) Dimension() int {
	if b.mem != nil {
		return b.mem.Dimension()
	}
	return b.dimension
}

// Size returns the number of records held in process. ok is false for
// external stores, which are not counted.
func (b *Backend) Size() (n int, ok bool) {
	if b.mem == nil {
		return 0, false
	}
	return b.mem.Len(), true
}

// Catalog returns the record source used by the scan strategy.
func (b *Backend) Catalog() vector.Catalog { return b.catalog }

// Upserter returns the write side of the store.
func (b *Backend) Upserter() vector.Upserter { return b.upserter }

// Searcher returns the searcher for strategy: "scan" computes distances
// in-process, "store" delegates the query to the backend.
func (b *Backend) Searcher(strategy string) (vector.Searcher, error) {
	switch strategy {
	case "", "scan":
		return vector.NewScanSearcher(b.catalog), nil
	case "store":
		if b.searcher == nil {
			return nil, fmt.Errorf("backend %s cannot evaluate queries; use the scan strategy", b.Name)
		}
		return b.searcher, nil
	default:
		return nil, fmt.Errorf("unknown search strategy %q", strategy)
	}
}

// Prepare creates the backing table or collection. It is a no-op for the
// memory backend.
func (b *Backend) Prepare(ctx context.Context) error {
	if b.prepare == nil {
		return nil
	}
	return b.prepare(ctx)
}

// PrepareFunc returns the prepare hook, nil for in-process stores.
func (b *Backend) PrepareFunc() func(ctx context.Context) error { return b.prepare }

// HealthFunc returns the health check, nil for in-process stores.
func (b *Backend) HealthFunc() func(ctx context.Context) error { return b.health }

// Close releases the store connection.
func (b *Backend) Close() error { return b.close() }

type persistingCatalog struct {
	mu   sync.Mutex
	mem  *vector.MemoryCatalog
	path string
}

func (p *persistingCatalog) Upsert(ctx context.Context, records []vector.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.mem.Upsert(ctx, records); err != nil {
		return err
	}
	all, err := p.mem.Records(ctx)
	if err != nil {
		return err
	}
	if err := vector.SaveCatalogFile(p.path, all); err != nil {
		return fmt.Errorf("%w: saving %s: %w", vector.ErrStoreUnavailable, p.path, err)
	}
	return nil
}
