package pgvector

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"
)

// SQLDump appends executable copies of similarity queries to a file so
// they can be replayed with psql.
type SQLDump struct {
	mu sync.Mutex
	f  *os.File
}

// OpenSQLDump opens path for appending.
func OpenSQLDump(path string) (*SQLDump, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening sql dump: %w", err)
	}
	return &SQLDump{f: f}, nil
}

// Write appends query with args inlined. Write errors are ignored; the
// dump is a debugging aid.
func (d *SQLDump) Write(query string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.f, "-- %s\n%s;\n\n", time.Now().UTC().Format(time.RFC3339), Interpolate(query, args...))
}

func (d *SQLDump) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

// Interpolate replaces $n placeholders with SQL literals.
func Interpolate(query string, args ...any) string {
	// Highest index first so $1 does not clobber $10.
	for i := len(args); i >= 1; i-- {
		query = strings.ReplaceAll(query, "$"+strconv.Itoa(i), literal(args[i-1]))
	}
	return query
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case pgvector.Vector:
		return "'" + x.String() + "'::vector"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}
