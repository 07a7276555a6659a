package llm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingProvider struct {
	name  string
	calls int64
}

func (m *countingProvider) Name() string { return m.name }

func (m *countingProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt64(&m.calls, 1)
	return make([][]float32, len(texts)), nil
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute != 60 {
		t.Fatalf("expected 60 RPM, got %d", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 5 {
		t.Fatalf("expected burst 5, got %d", cfg.BurstSize)
	}
}

func TestRateLimitProvider_Name(t *testing.T) {
	rl := NewRateLimitProvider(&countingProvider{name: "test-provider"}, nil)
	if rl.Name() != "test-provider" {
		t.Fatalf("expected 'test-provider', got %s", rl.Name())
	}
}

func TestRateLimitProvider_BurstPassesImmediately(t *testing.T) {
	inner := &countingProvider{name: "test"}
	rl := NewRateLimitProvider(inner, &RateLimitConfig{RequestsPerMinute: 60, BurstSize: 3})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := rl.Embed(context.Background(), []string{"x"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("burst should not wait, took %v", elapsed)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRateLimitProvider_WaitRespectsContext(t *testing.T) {
	inner := &countingProvider{name: "test"}
	// one request per minute, burst of one: the second call must wait ~60s
	rl := NewRateLimitProvider(inner, &RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1})

	if _, err := rl.Embed(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := rl.Embed(ctx, []string{"x"})
	if err == nil {
		t.Fatal("expected limiter wait to fail under a short deadline")
	}
	if inner.calls != 1 {
		t.Fatalf("expected inner provider to be skipped, got %d calls", inner.calls)
	}
}

func TestRateLimitProvider_Unlimited(t *testing.T) {
	inner := &countingProvider{name: "test"}
	rl := NewRateLimitProvider(inner, &RateLimitConfig{})
	for i := 0; i < 50; i++ {
		if _, err := rl.Embed(context.Background(), []string{"x"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls != 50 {
		t.Fatalf("expected 50 calls, got %d", inner.calls)
	}
}

func TestWithRateLimit_Nil(t *testing.T) {
	if WithRateLimit(nil, nil) != nil {
		t.Fatal("expected nil for nil provider")
	}
}
