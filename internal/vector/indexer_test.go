package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type failingUpserter struct{}

func (failingUpserter) Upsert(context.Context, []Record) error { return errors.New("read-only") }

func TestBatches(t *testing.T) {
	sources := make([]SourceRecord, 5)
	got := Batches(sources, 2)
	if len(got) != 3 || len(got[2]) != 1 {
		t.Errorf("expected batches of 2,2,1, got %d batches", len(got))
	}
	if len(Batches(nil, 2)) != 0 {
		t.Error("expected no batches for no sources")
	}
	if len(Batches(sources, 0)) != 1 {
		t.Error("expected default batch size to hold all sources")
	}
}

func TestIndexer_Index(t *testing.T) {
	p := &fakeProvider{vectors: map[string][]float32{
		"Electric mouse": {1, 0},
		"Evolved  mouse": {0.9, 0.1},
		"Bulbasaur":      {0, 1},
	}}
	store := NewMemoryCatalog(2)
	ix := NewIndexer(NewEmbedder(p, 2), store, 2)

	n, err := ix.Index(context.Background(), []SourceRecord{
		{ID: 25, Name: "Pikachu", Text: "Electric mouse"},
		{ID: 26, Name: "Raichu", Text: "Evolved\n mouse"},
		{ID: 1, Name: "Bulbasaur"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 || store.Len() != 3 {
		t.Errorf("expected 3 records indexed, got %d (store %d)", n, store.Len())
	}
	if p.callCount() != 2 {
		t.Errorf("expected 2 batched embed calls, got %d", p.callCount())
	}

	got, err := NewScanSearcher(store).Search(context.Background(), Query{Vector: []float32{1, 0}, MaxDistance: 0.5, Limit: 8})
	if err != nil || len(got) != 2 {
		t.Errorf("expected indexed catalog to be searchable, got %v, %v", got, err)
	}
}

func TestIndexer_Errors(t *testing.T) {
	p := &fakeProvider{vectors: map[string][]float32{"a": {1}}}

	_, err := NewIndexer(NewEmbedder(p, 1), failingUpserter{}, 0).Index(context.Background(), []SourceRecord{{ID: 1, Text: "a"}})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}

	_, err = NewIndexer(NewEmbedder(&fakeProvider{err: errors.New("down")}, 1), NewMemoryCatalog(1), 0).
		Index(context.Background(), []SourceRecord{{ID: 1, Text: "a"}})
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("expected ErrEmbeddingUnavailable, got %v", err)
	}

	// The store fixes its own dimension; a mismatch is not a store outage.
	_, err = NewIndexer(NewEmbedder(p, 0), NewMemoryCatalog(2), 0).Index(context.Background(), []SourceRecord{{ID: 1, Text: "a"}})
	if !errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected bare ErrDimensionMismatch, got %v", err)
	}
}

func TestLoadSourceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.json")
	os.WriteFile(path, []byte(`[{"id":25,"name":"Pikachu","text":"Electric mouse"}]`), 0o644)
	got, err := LoadSourceFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Pikachu" {
		t.Errorf("unexpected sources %v", got)
	}
}
