package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/efebarandurmaz/pokedex/internal/llm/hash"
	"github.com/efebarandurmaz/pokedex/internal/observability"
	"github.com/efebarandurmaz/pokedex/internal/vector"
)

type stubSearcher struct {
	matches []vector.Match
	err     error
	gotText string
	gotOpts vector.SearchOptions
}

func (s *stubSearcher) Search(_ context.Context, text string, opts vector.SearchOptions) ([]vector.Match, error) {
	s.gotText = text
	s.gotOpts = opts
	return s.matches, s.err
}

func newTestHandler(s TextSearcher) (http.Handler, *observability.Metrics) {
	m := observability.NewMetrics(false)
	h := NewHealthServer(nil)
	h.SetReady(true)
	return NewHandler(NewAPI(s, m, nil), h), m
}

func TestSearch_GET(t *testing.T) {
	stub := &stubSearcher{matches: []vector.Match{{ID: 25, Name: "Pikachu", Distance: 0}}}
	h, _ := newTestHandler(stub)

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=electric+mouse&limit=3&max_distance=0.4", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var got []vector.Match
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("expected JSON array: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Pikachu" {
		t.Errorf("unexpected matches %v", got)
	}
	if stub.gotText != "electric mouse" || stub.gotOpts.Limit != 3 || *stub.gotOpts.MaxDistance != 0.4 {
		t.Errorf("parameters not forwarded: %q %+v", stub.gotText, stub.gotOpts)
	}
}

func TestSearch_POST(t *testing.T) {
	stub := &stubSearcher{matches: []vector.Match{}}
	h, _ := newTestHandler(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"seed on its back","limit":2}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty JSON array, got %s", w.Body)
	}
	if stub.gotText != "seed on its back" || stub.gotOpts.Limit != 2 || stub.gotOpts.MaxDistance != nil {
		t.Errorf("body not forwarded: %q %+v", stub.gotText, stub.gotOpts)
	}
}

func TestSearch_BadRequests(t *testing.T) {
	h, _ := newTestHandler(&stubSearcher{})
	tests := []struct {
		name   string
		method string
		target string
		body   string
		code   int
	}{
		{"bad limit", http.MethodGet, "/api/search?q=x&limit=ten", "", http.StatusBadRequest},
		{"bad threshold", http.MethodGet, "/api/search?q=x&max_distance=far", "", http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/search", "{", http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/api/search", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, w.Code)
			}
			var resp errorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Error == "" {
				t.Errorf("expected JSON error body, got %s", w.Body)
			}
		})
	}
}

func TestSearch_ExplicitZeroLimitRejected(t *testing.T) {
	stub := &stubSearcher{}
	h, _ := newTestHandler(stub)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/search?q=x&limit=0", nil),
		httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"x","limit":0}`)),
	} {
		stub.gotOpts = vector.SearchOptions{}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if stub.gotOpts.Limit >= 0 {
			t.Errorf("%s: expected limit=0 to be forwarded as invalid, got %d", req.Method, stub.gotOpts.Limit)
		}
	}

	// Omitting the limit keeps the service default.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"x"}`)))
	if stub.gotOpts.Limit != 0 {
		t.Errorf("expected omitted limit to stay unset, got %d", stub.gotOpts.Limit)
	}
}

func TestSearch_ExplicitZeroLimitWithService(t *testing.T) {
	emb := vector.NewEmbedder(hash.New(8), 8)
	svc := vector.NewService(emb, vector.NewScanSearcher(vector.NewMemoryCatalog(8)))
	h, _ := newTestHandler(svc)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"mouse","limit":0}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for POST limit 0, got %d: %s", w.Code, w.Body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: limit", vector.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: openai: 503", vector.ErrEmbeddingUnavailable), http.StatusBadGateway},
		{fmt.Errorf("%w: refused", vector.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{vector.ErrDimensionMismatch, http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.code {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.code)
		}
	}
}

func TestSearch_ErrorStatus(t *testing.T) {
	h, _ := newTestHandler(&stubSearcher{err: fmt.Errorf("%w: timeout", vector.ErrEmbeddingUnavailable)})
	req := httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestHandler_MetricsAndHealth(t *testing.T) {
	h, m := newTestHandler(&stubSearcher{matches: []vector.Match{}})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/api/search", "200")); got != 1 {
		t.Errorf("expected one recorded search request, got %f", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("unmatched", "404")); got != 1 {
		t.Errorf("expected one unmatched request, got %f", got)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "pokedex_http_requests_total") {
		t.Errorf("expected metrics exposition")
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected ready, got %d", w.Code)
	}
}

// End to end through a real service with the offline provider.
func TestSearch_WithService(t *testing.T) {
	p := hash.New(64)
	emb := vector.NewEmbedder(p, 64)
	catalog := vector.NewMemoryCatalog(64)
	ix := vector.NewIndexer(emb, catalog, 0)
	if _, err := ix.Index(context.Background(), []vector.SourceRecord{
		{ID: 25, Name: "Pikachu", Text: "yellow electric mouse"},
		{ID: 1, Name: "Bulbasaur", Text: "green seed plant"},
	}); err != nil {
		t.Fatalf("index: %v", err)
	}
	svc := vector.NewService(emb, vector.NewScanSearcher(catalog))
	h, _ := newTestHandler(svc)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search?q=yellow+electric+mouse", nil))
	var got []vector.Match
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body)
	}
	if len(got) == 0 || got[0].Name != "Pikachu" {
		t.Errorf("expected Pikachu first, got %v", got)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search?q=+", nil))
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty array for blank query, got %s", w.Body)
	}
}
