package pgvector

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/efebarandurmaz/pokedex/internal/vector"
)

func newMockStore(t *testing.T, cfg Config) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewWithDB(db, cfg)
	if err != nil {
		t.Fatalf("NewWithDB: %v", err)
	}
	return s, mock
}

func TestNewWithDB_TableName(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	for _, bad := range []string{"Pokemon", "poke-mon", "p; DROP TABLE x", "1abc"} {
		if _, err := NewWithDB(db, Config{Table: bad}); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
	s, err := NewWithDB(db, Config{})
	if err != nil || s.table != "pokemon" {
		t.Errorf("expected default table pokemon, got %v, %v", s, err)
	}
}

func TestEnsureSchema(t *testing.T) {
	s, mock := newMockStore(t, Config{Dimension: 1536})

	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS vector")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS pokemon \(.*embedding vector\(1536\) NOT NULL`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS pokemon_embedding_idx ON pokemon USING hnsw (embedding vector_cosine_ops)")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEnsureSchema_NeedsDimension(t *testing.T) {
	s, _ := newMockStore(t, Config{})
	if err := s.EnsureSchema(context.Background()); err == nil {
		t.Fatal("expected error without dimension")
	}
}

var searchColumns = []string{"id", "name", "embedding", "distance"}

func TestSearch(t *testing.T) {
	s, mock := newMockStore(t, Config{Dimension: 2})
	q := vector.Query{Vector: []float32{1, 0}, MaxDistance: 0.5, Limit: 8}

	raichu := 1 - 0.9/math.Sqrt(0.82)
	mock.ExpectQuery(regexp.QuoteMeta(s.searchSQL())).
		WithArgs(pgvector.NewVector(q.Vector), q.MaxDistance+distanceSlack, 8+tieHeadroom).
		WillReturnRows(sqlmock.NewRows(searchColumns).
			AddRow(int64(25), "Pikachu", "[1,0]", 0.0).
			AddRow(int64(26), "Raichu", "[0.9,0.1]", raichu))

	got, err := s.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Pikachu" || got[1].ID != 26 {
		t.Fatalf("unexpected matches %v", got)
	}
	if math.Abs(got[1].Distance-raichu) > 1e-6 {
		t.Errorf("expected distance %v, got %v", raichu, got[1].Distance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSearch_NoRows(t *testing.T) {
	s, mock := newMockStore(t, Config{Dimension: 2})
	mock.ExpectQuery(regexp.QuoteMeta(s.searchSQL())).
		WillReturnRows(sqlmock.NewRows(searchColumns))

	got, err := s.Search(context.Background(), vector.Query{Vector: []float32{-1, 0}, MaxDistance: 0.5, Limit: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", got)
	}
}

func TestSearch_ReappliesOrdering(t *testing.T) {
	s, mock := newMockStore(t, Config{})
	// A store returning ties in id-descending order still yields id-ascending.
	mock.ExpectQuery(regexp.QuoteMeta(s.searchSQL())).
		WillReturnRows(sqlmock.NewRows(searchColumns).
			AddRow(int64(9), "Nine", "[1]", 0.1).
			AddRow(int64(3), "Three", "[1]", 0.1))

	got, err := s.Search(context.Background(), vector.Query{Vector: []float32{1}, MaxDistance: 0.5, Limit: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].ID != 3 || got[1].ID != 9 {
		t.Errorf("expected ids [3 9], got %v", got)
	}
}

// The database's float32 distance only preselects; the exact distance makes
// the cut and the order.
func TestSearch_ExactDistanceDecides(t *testing.T) {
	s, mock := newMockStore(t, Config{Dimension: 2})
	q := vector.Query{Vector: []float32{1, 0}, MaxDistance: 0.5, Limit: 1}

	// Ditto is reported just under the cut but lies just above it, and the
	// reported order of the two identical vectors is wrong.
	mock.ExpectQuery(regexp.QuoteMeta(s.searchSQL())).
		WillReturnRows(sqlmock.NewRows(searchColumns).
			AddRow(int64(2), "Ivysaur", "[0.6,0.8]", 0.39999).
			AddRow(int64(1), "Bulbasaur", "[0.6,0.8]", 0.40001).
			AddRow(int64(132), "Ditto", "[0.5,0.8661]", 0.49999))

	got, err := s.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Bulbasaur and Ivysaur tie exactly, so the lower id wins.
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected [1], got %v", got)
	}

	mock.ExpectQuery(regexp.QuoteMeta(s.searchSQL())).
		WillReturnRows(sqlmock.NewRows(searchColumns).
			AddRow(int64(132), "Ditto", "[0.5,0.8661]", 0.49999))
	got, err = s.Search(context.Background(), vector.Query{Vector: []float32{1, 0}, MaxDistance: 0.5, Limit: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected Ditto to fail the strict cut, got %v", got)
	}
}

func TestSearch_WidensPastNearTies(t *testing.T) {
	s, mock := newMockStore(t, Config{Dimension: 1})
	q := vector.Query{Vector: []float32{1}, MaxDistance: 0.5, Limit: 1}

	page := func(n int) *sqlmock.Rows {
		rows := sqlmock.NewRows(searchColumns)
		for i := 0; i < n; i++ {
			rows.AddRow(int64(100-i), "Unown", "[1]", 0.0)
		}
		return rows
	}
	mock.ExpectQuery(regexp.QuoteMeta(s.searchSQL())).
		WithArgs(pgvector.NewVector(q.Vector), q.MaxDistance+distanceSlack, 1+tieHeadroom).
		WillReturnRows(page(1 + tieHeadroom))
	mock.ExpectQuery(regexp.QuoteMeta(s.searchSQL())).
		WithArgs(pgvector.NewVector(q.Vector), q.MaxDistance+distanceSlack, 2*(1+tieHeadroom)).
		WillReturnRows(page(12))

	got, err := s.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != 89 {
		t.Fatalf("expected lowest id 89, got %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNearBoundary(t *testing.T) {
	rows := func(ds ...float64) []candidate {
		out := make([]candidate, len(ds))
		for i, d := range ds {
			out[i].match.Distance = d
		}
		return out
	}
	tests := []struct {
		name  string
		rows  []candidate
		limit int
		fetch int
		want  bool
	}{
		{"short page", rows(0.1, 0.1), 1, 3, false},
		{"clear gap", rows(0.1, 0.2, 0.3), 1, 3, false},
		{"tie runs to page end", rows(0.1, 0.2, 0.2), 2, 3, true},
		{"within slack", rows(0.1, 0.1+distanceSlack), 1, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nearBoundary(tt.rows, tt.limit, tt.fetch); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSearch_Errors(t *testing.T) {
	t.Run("invalid query", func(t *testing.T) {
		s, _ := newMockStore(t, Config{Dimension: 2})
		if _, err := s.Search(context.Background(), vector.Query{Vector: []float32{1, 0}, MaxDistance: 0.5}); !errors.Is(err, vector.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("known dimension", func(t *testing.T) {
		s, _ := newMockStore(t, Config{Dimension: 2})
		if _, err := s.Search(context.Background(), vector.Query{Vector: []float32{1, 0, 0}, MaxDistance: 0.5, Limit: 1}); !errors.Is(err, vector.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}
	})

	t.Run("database dimension error", func(t *testing.T) {
		s, mock := newMockStore(t, Config{})
		mock.ExpectQuery(regexp.QuoteMeta(s.searchSQL())).
			WillReturnError(&pgconn.PgError{Code: "22000", Message: "different vector dimensions 3 and 2"})
		_, err := s.Search(context.Background(), vector.Query{Vector: []float32{1, 0, 0}, MaxDistance: 0.5, Limit: 1})
		if !errors.Is(err, vector.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}
	})

	t.Run("connection error", func(t *testing.T) {
		s, mock := newMockStore(t, Config{})
		mock.ExpectQuery(regexp.QuoteMeta(s.searchSQL())).WillReturnError(errors.New("connection refused"))
		_, err := s.Search(context.Background(), vector.Query{Vector: []float32{1}, MaxDistance: 0.5, Limit: 1})
		if !errors.Is(err, vector.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})
}

func TestRecords(t *testing.T) {
	s, mock := newMockStore(t, Config{})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, embedding FROM pokemon ORDER BY id")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "embedding"}).
			AddRow(int64(1), "Bulbasaur", "[0,1]").
			AddRow(int64(25), "Pikachu", "[1,0]"))

	got, err := s.Records(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].Name != "Pikachu" || got[1].Embedding[0] != 1 {
		t.Errorf("unexpected records %v", got)
	}
}

func TestUpsert(t *testing.T) {
	s, mock := newMockStore(t, Config{Dimension: 2})
	records := []vector.Record{
		{ID: 25, Name: "Pikachu", Embedding: []float32{1, 0}},
		{ID: 1, Name: "Bulbasaur", Embedding: []float32{0, 1}},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO pokemon")
	prep.ExpectExec().WithArgs(int64(25), "Pikachu", pgvector.NewVector([]float32{1, 0})).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(int64(1), "Bulbasaur", pgvector.NewVector([]float32{0, 1})).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.Upsert(context.Background(), records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpsert_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t, Config{Dimension: 2})

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO pokemon")
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Upsert(context.Background(), []vector.Record{{ID: 1, Name: "a", Embedding: []float32{1, 0}}})
	if !errors.Is(err, vector.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpsert_Empty(t *testing.T) {
	s, mock := newMockStore(t, Config{})
	if err := s.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expected no queries: %v", err)
	}
}

func TestSearch_WritesDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.sql")
	s, mock := newMockStore(t, Config{Dimension: 2, DumpSQL: path})
	mock.ExpectQuery(regexp.QuoteMeta(s.searchSQL())).
		WillReturnRows(sqlmock.NewRows(searchColumns))

	if _, err := s.Search(context.Background(), vector.Query{Vector: []float32{1, 0}, MaxDistance: 0.5, Limit: 8}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.dump.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading dump: %v", err)
	}
	want := "WHERE embedding <=> '[1,0]'::vector < 0.5"
	if !strings.Contains(string(data), want) || !strings.Contains(string(data), "ORDER BY distance ASC, id ASC LIMIT 16;") {
		t.Errorf("dump missing interpolated query, got:\n%s", data)
	}
}

func TestInterpolate(t *testing.T) {
	got := Interpolate("SELECT $1, $2, $10", "it's", int64(3), nil, nil, nil, nil, nil, nil, nil, 7)
	want := "SELECT 'it''s', 3, 7"
	if got != want {
		t.Errorf("Interpolate = %q, want %q", got, want)
	}
}
