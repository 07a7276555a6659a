package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/efebarandurmaz/pokedex/internal/observability"
	"github.com/efebarandurmaz/pokedex/internal/vector"
)

const maxRequestBody = 64 << 10

// TextSearcher answers free-text queries. *vector.Service implements it.
type TextSearcher interface {
	Search(ctx context.Context, text string, opts vector.SearchOptions) ([]vector.Match, error)
}

// API serves the search endpoints.
type API struct {
	searcher TextSearcher
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewAPI creates the search API. metrics may be nil.
func NewAPI(searcher TextSearcher, metrics *observability.Metrics, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{searcher: searcher, metrics: metrics, logger: logger}
}

// SearchRequest is the POST /api/search body.
type SearchRequest struct {
	Query       string   `json:"query"`
	MaxDistance *float64 `json:"max_distance,omitempty"`
	Limit       *int     `json:"limit,omitempty"`
}

// options converts the request bounds. An explicit zero limit is an
// invalid limit, not "use the default".
func (r SearchRequest) options() vector.SearchOptions {
	opts := vector.SearchOptions{MaxDistance: r.MaxDistance}
	if r.Limit != nil {
		opts.Limit = *r.Limit
		if opts.Limit == 0 {
			opts.Limit = -1
		}
	}
	return opts
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler mounts the search API, the health endpoints and /metrics on one
// mux, wrapped in request logging and metrics.
func NewHandler(api *API, health *HealthServer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search", api.handleSearch)
	health.Register(mux)
	if api.metrics != nil {
		mux.Handle("/metrics", api.metrics.Handler())
	}
	return api.instrument(mux)
}

// handleSearch handles GET /api/search?q=... and POST /api/search.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	switch r.Method {
	case http.MethodGet:
		parsed, err := parseQueryParams(r)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		req = parsed
	case http.MethodPost:
		body := http.MaxBytesReader(w, r.Body, maxRequestBody)
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	matches, err := a.searcher.Search(r.Context(), req.Query, req.options())
	if err != nil {
		code := StatusFor(err)
		if code >= http.StatusInternalServerError {
			a.logger.Error("search failed", "error", err, "status", code)
		}
		a.writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func parseQueryParams(r *http.Request) (SearchRequest, error) {
	q := r.URL.Query()
	req := SearchRequest{Query: q.Get("q")}
	if v := q.Get("max_distance"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, fmt.Errorf("max_distance: %w", err)
		}
		req.MaxDistance = &f
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("limit: %w", err)
		}
		req.Limit = &n
	}
	return req, nil
}

// StatusFor maps search errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, vector.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, vector.ErrEmbeddingUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, vector.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument logs each request and records it in the metrics.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		d := time.Since(start)
		if a.metrics != nil {
			// ServeMux fills in Pattern; unmatched paths share one label.
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			a.metrics.ObserveRequest(route, rec.status, d)
		}
		a.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", d,
		)
	})
}
