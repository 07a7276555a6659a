package vector

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelScanThreshold is the catalog size above which distances are
// computed by several goroutines.
const parallelScanThreshold = 4096

// ScanSearcher computes distances in-process against every catalog record.
type ScanSearcher struct {
	catalog Catalog
	workers int
}

// NewScanSearcher creates a searcher over catalog.
func NewScanSearcher(catalog Catalog) *ScanSearcher {
	return &ScanSearcher{catalog: catalog, workers: runtime.GOMAXPROCS(0)}
}

// Search implements Searcher.
func (s *ScanSearcher) Search(ctx context.Context, q Query) ([]Match, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	records, err := s.catalog.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if len(records) == 0 {
		return []Match{}, nil
	}

	distances := make([]float64, len(records))
	if len(records) < parallelScanThreshold || s.workers <= 1 {
		if err := computeDistances(q.Vector, records, distances); err != nil {
			return nil, err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		chunk := (len(records) + s.workers - 1) / s.workers
		for lo := 0; lo < len(records); lo += chunk {
			hi := min(lo+chunk, len(records))
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return computeDistances(q.Vector, records[lo:hi], distances[lo:hi])
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	// Ordering and limiting happen only once every distance is known.
	candidates := make([]Match, 0, len(records))
	for i, r := range records {
		candidates = append(candidates, Match{ID: r.ID, Name: r.Name, Distance: distances[i]})
	}
	return Finalize(candidates, q.MaxDistance, q.Limit), nil
}

func computeDistances(query []float32, records []Record, out []float64) error {
	for i, r := range records {
		d, err := CosineDistance(query, r.Embedding)
		if err != nil {
			return fmt.Errorf("record %d: %w", r.ID, err)
		}
		out[i] = d
	}
	return nil
}

var _ Searcher = (*ScanSearcher)(nil)
