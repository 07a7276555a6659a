package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/efebarandurmaz/pokedex/internal/config"
	"github.com/efebarandurmaz/pokedex/internal/vector"
)

func memoryConfig(path string) *config.Config {
	cfg := config.Default()
	cfg.Embedding.Dimension = 2
	cfg.Store.Backend = "memory"
	cfg.Store.CatalogFile = path
	return cfg
}

func TestOpen_MemoryMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	b, err := Open(context.Background(), memoryConfig(path))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	recs, err := b.Catalog().Records(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("expected empty catalog, got %d records", len(recs))
	}
	if b.HealthFunc() != nil || b.PrepareFunc() != nil {
		t.Error("expected no health or prepare hooks for memory")
	}
}

func TestOpen_MemoryPersistsWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.json")

	b, err := Open(ctx, memoryConfig(path))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	err = b.Upserter().Upsert(ctx, []vector.Record{
		{ID: 25, Name: "Pikachu", Embedding: []float32{1, 0}},
		{ID: 1, Name: "Bulbasaur", Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected catalog file to be written: %v", err)
	}

	reopened, err := Open(ctx, memoryConfig(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	recs, _ := reopened.Catalog().Records(ctx)
	if len(recs) != 2 || recs[0].Name != "Pikachu" {
		t.Errorf("unexpected reloaded records: %+v", recs)
	}
	if n, ok := reopened.Size(); !ok || n != 2 {
		t.Errorf("Size() = %d, %v; want 2, true", n, ok)
	}
}

func TestOpen_MemoryDimensionFromCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := vector.SaveCatalogFile(path, []vector.Record{{ID: 1, Name: "x", Embedding: []float32{1, 0, 0}}}); err != nil {
		t.Fatal(err)
	}
	cfg := memoryConfig(path)
	cfg.Embedding.Dimension = 0

	b, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if b.Dimension() != 3 {
		t.Errorf("expected dimension 3 from the catalog, got %d", b.Dimension())
	}
}

func TestOpen_FailedBatchIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.json")
	b, err := Open(ctx, memoryConfig(path))
	if err != nil {
		t.Fatal(err)
	}

	err = b.Upserter().Upsert(ctx, []vector.Record{
		{ID: 25, Name: "Pikachu", Embedding: []float32{1, 0}},
		{ID: 26, Name: "Raichu", Embedding: []float32{1, 0, 0}},
	})
	if !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if n, _ := b.Size(); n != 0 {
		t.Errorf("expected failed batch to leave the catalog empty, got %d", n)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected no catalog file after a failed batch, got %v", err)
	}
}

func TestOpen_MemoryCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := vector.SaveCatalogFile(path, []vector.Record{{ID: 1, Name: "x", Embedding: []float32{1, 0, 0}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), memoryConfig(path)); !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "redis"
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestSearcher(t *testing.T) {
	mem := vector.NewMemoryCatalog(2)
	_ = mem.Upsert(context.Background(), []vector.Record{{ID: 25, Name: "Pikachu", Embedding: []float32{1, 0}}})
	b := NewMemory(mem, "")

	s, err := b.Searcher("scan")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	matches, err := s.Search(context.Background(), vector.Query{Vector: []float32{1, 0}, MaxDistance: 0.5, Limit: 8})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID != 25 {
		t.Errorf("unexpected matches: %+v", matches)
	}

	if _, err := b.Searcher("store"); err == nil {
		t.Error("expected memory backend to reject the store strategy")
	}
	if _, err := b.Searcher("hnsw"); err == nil {
		t.Error("expected unknown strategy error")
	}
	if err := b.Prepare(context.Background()); err != nil {
		t.Errorf("Prepare: %v", err)
	}
}
