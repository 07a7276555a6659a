package vector

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/efebarandurmaz/pokedex/internal/observability"
)

// Search defaults used when a request leaves them unset.
const (
	DefaultMaxDistance = 0.5
	DefaultLimit       = 8
)

// SearchOptions bounds a text search. Zero values fall back to the
// service defaults.
type SearchOptions struct {
	MaxDistance *float64
	Limit       int
}

// Recorder receives per-search measurements. observability.Metrics
// implements it.
type Recorder interface {
	ObserveSearch(outcome string, duration time.Duration, matches int)
}

// Search outcomes reported to the Recorder.
const (
	OutcomeOK           = "ok"
	OutcomeEmptyQuery   = "empty_query"
	OutcomeInvalidInput = "invalid_input"
	OutcomeEmbedError   = "embedding_unavailable"
	OutcomeStoreError   = "store_unavailable"
	OutcomeDimension    = "dimension_mismatch"
	OutcomeError        = "error"
)

// Service answers free-text queries: text -> Embedder -> Searcher -> matches.
type Service struct {
	embedder    *Embedder
	searcher    Searcher
	strategy    string
	maxDistance float64
	limit       int
	recorder    Recorder
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDefaults overrides the default threshold and limit.
func WithDefaults(maxDistance float64, limit int) ServiceOption {
	return func(s *Service) {
		s.maxDistance = maxDistance
		s.limit = limit
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// WithStrategyName labels spans with the searcher in use.
func WithStrategyName(name string) ServiceOption {
	return func(s *Service) { s.strategy = name }
}

// NewService wires an embedder to a searcher.
func NewService(embedder *Embedder, searcher Searcher, opts ...ServiceOption) *Service {
	s := &Service{
		embedder:    embedder,
		searcher:    searcher,
		strategy:    "scan",
		maxDistance: DefaultMaxDistance,
		limit:       DefaultLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns the catalog records closest to text. Blank text returns an
// empty list without calling the embedder.
func (s *Service) Search(ctx context.Context, text string, opts SearchOptions) ([]Match, error) {
	start := time.Now()

	if strings.TrimSpace(text) == "" {
		s.observe(OutcomeEmptyQuery, start, 0)
		return []Match{}, nil
	}

	q := Query{MaxDistance: s.maxDistance, Limit: s.limit}
	if opts.MaxDistance != nil {
		q.MaxDistance = *opts.MaxDistance
	}
	if opts.Limit != 0 {
		q.Limit = opts.Limit
	}

	ctx, span := observability.StartSearchSpan(ctx, s.strategy, q.MaxDistance, q.Limit)
	defer span.End()

	// Check the bounds before spending an embedding call on them.
	if err := ValidateBounds(q.MaxDistance, q.Limit); err != nil {
		observability.RecordError(span, err)
		s.observe(OutcomeInvalidInput, start, 0)
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		observability.RecordError(span, err)
		s.observe(outcomeOf(err), start, 0)
		return nil, err
	}
	q.Vector = vec

	matches, err := s.searcher.Search(ctx, q)
	if err != nil {
		observability.RecordError(span, err)
		s.observe(outcomeOf(err), start, 0)
		return nil, err
	}

	observability.RecordSearchResult(span, len(matches))
	s.observe(OutcomeOK, start, len(matches))
	return matches, nil
}

func (s *Service) observe(outcome string, start time.Time, n int) {
	if s.recorder != nil {
		s.recorder.ObserveSearch(outcome, time.Since(start), n)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return OutcomeInvalidInput
	case errors.Is(err, ErrEmbeddingUnavailable):
		return OutcomeEmbedError
	case errors.Is(err, ErrStoreUnavailable):
		return OutcomeStoreError
	case errors.Is(err, ErrDimensionMismatch):
		return OutcomeDimension
	default:
		return OutcomeError
	}
}
