// Package pgvector stores the catalog in PostgreSQL with the pgvector
// extension and runs similarity search inside the database.
package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pgvector/pgvector-go"

	"github.com/efebarandurmaz/pokedex/internal/observability"
	"github.com/efebarandurmaz/pokedex/internal/vector"
)

// Config describes the catalog table.
type Config struct {
	DSN       string
	Table     string
	Dimension int
	// DumpSQL, if set, is a file that receives each similarity query with
	// its arguments inlined.
	DumpSQL string
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Store implements vector.Searcher, vector.Catalog and vector.Upserter on a
// pgvector table with columns (id BIGINT, name TEXT, embedding vector).
type Store struct {
	db        *sql.DB
	table     string
	dimension int
	dump      *SQLDump
}

// New opens a connection pool through the pgx driver and verifies it.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgvector: %w: %w", vector.ErrStoreUnavailable, err)
	}
	s, err := NewWithDB(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing pool.
func NewWithDB(db *sql.DB, cfg Config) (*Store, error) {
	table := cfg.Table
	if table == "" {
		table = "pokemon"
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("pgvector: invalid table name %q", table)
	}
	s := &Store{db: db, table: table, dimension: cfg.Dimension}
	if cfg.DumpSQL != "" {
		d, err := OpenSQLDump(cfg.DumpSQL)
		if err != nil {
			return nil, err
		}
		s.dump = d
	}
	return s, nil
}

// EnsureSchema creates the extension, the table and an HNSW cosine index.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.dimension <= 0 {
		return fmt.Errorf("pgvector: table %q needs a positive dimension", s.table)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	embedding vector(%d) NOT NULL
)`, s.table, s.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storeErr("schema", err)
		}
	}
	return nil
}

func (s *Store) searchSQL() string {
	return fmt.Sprintf(`SELECT id, name, embedding, embedding <=> $1 AS distance FROM %s WHERE embedding <=> $1 < $2 ORDER BY distance ASC, id ASC LIMIT $3`, s.table)
}

const (
	// distanceSlack bounds the difference between <=>, which accumulates in
	// float32, and vector.CosineDistance on the same pair.
	distanceSlack = 1e-4
	// tieHeadroom is the number of rows fetched past the limit so rows
	// within distanceSlack of the boundary are usually all seen at once.
	tieHeadroom = 8
)

type candidate struct {
	match     vector.Match
	embedding []float32
}

// Search implements vector.Searcher with the <=> cosine distance operator.
// The database preselects rows with a slightly wider threshold; each row's
// distance is then recomputed so the cut and the ordering agree with the
// in-process scan.
func (s *Store) Search(ctx context.Context, q vector.Query) ([]vector.Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if s.dimension > 0 && len(q.Vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, table has %d",
			vector.ErrDimensionMismatch, len(q.Vector), s.dimension)
	}

	ctx, span := observability.StartStrategySpan(ctx, "postgres")
	defer span.End()

	fetch := q.Limit + tieHeadroom
	var rows []candidate
	for {
		var err error
		rows, err = s.searchRows(ctx, q, fetch)
		if err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
		if !nearBoundary(rows, q.Limit, fetch) {
			break
		}
		fetch *= 2
	}

	matches := make([]vector.Match, 0, len(rows))
	for _, c := range rows {
		d, err := vector.CosineDistance(q.Vector, c.embedding)
		if err != nil {
			err = fmt.Errorf("record %d: %w", c.match.ID, err)
			observability.RecordError(span, err)
			return nil, err
		}
		c.match.Distance = d
		matches = append(matches, c.match)
	}
	return vector.Finalize(matches, q.MaxDistance, q.Limit), nil
}

func (s *Store) searchRows(ctx context.Context, q vector.Query, fetch int) ([]candidate, error) {
	query := s.searchSQL()
	args := []any{pgvector.NewVector(q.Vector), q.MaxDistance + distanceSlack, fetch}
	if s.dump != nil {
		s.dump.Write(query, args...)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("search", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var (
			c   candidate
			emb pgvector.Vector
		)
		if err := rows.Scan(&c.match.ID, &c.match.Name, &emb, &c.match.Distance); err != nil {
			return nil, storeErr("scan", err)
		}
		c.embedding = emb.Slice()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("search", err)
	}
	return out, nil
}

// nearBoundary reports whether a full page may have cut off rows whose exact
// distance could still place them within the limit.
func nearBoundary(rows []candidate, limit, fetch int) bool {
	if len(rows) < fetch || len(rows) < limit {
		return false
	}
	boundary := rows[limit-1].match.Distance
	return rows[len(rows)-1].match.Distance <= boundary+2*distanceSlack
}

// Records implements vector.Catalog, ordered by id.
func (s *Store) Records(ctx context.Context) ([]vector.Record, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, name, embedding FROM %s ORDER BY id`, s.table))
	if err != nil {
		return nil, storeErr("records", err)
	}
	defer rows.Close()

	var out []vector.Record
	for rows.Next() {
		var (
			r   vector.Record
			emb pgvector.Vector
		)
		if err := rows.Scan(&r.ID, &r.Name, &emb); err != nil {
			return nil, storeErr("scan", err)
		}
		r.Embedding = emb.Slice()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("records", err)
	}
	return out, nil
}

// Upsert writes records in one transaction.
func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, name, embedding) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, embedding = EXCLUDED.embedding`, s.table))
	if err != nil {
		return storeErr("prepare", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if s.dimension > 0 && len(r.Embedding) != s.dimension {
			return fmt.Errorf("record %d: %w: got %d, want %d", r.ID, vector.ErrDimensionMismatch, len(r.Embedding), s.dimension)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Name, pgvector.NewVector(r.Embedding)); err != nil {
			return fmt.Errorf("record %d: %w", r.ID, storeErr("upsert", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Close closes the dump file and the pool.
func (s *Store) Close() error {
	var errs []error
	if s.dump != nil {
		errs = append(errs, s.dump.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// storeErr classifies a database error. pgvector rejects mismatched
// lengths with "different vector dimensions" or "expected N dimensions".
func storeErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg := pgErr.Message
		if strings.Contains(msg, "different vector dimensions") || strings.Contains(msg, "dimensions, not") {
			return fmt.Errorf("pgvector %s: %w: %s", op, vector.ErrDimensionMismatch, msg)
		}
	}
	return fmt.Errorf("pgvector %s: %w: %w", op, vector.ErrStoreUnavailable, err)
}

var (
	_ vector.Searcher = (*Store)(nil)
	_ vector.Catalog  = (*Store)(nil)
	_ vector.Upserter = (*Store)(nil)
)
