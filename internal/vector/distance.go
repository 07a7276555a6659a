package vector

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// CosineDistance returns 1 - cosine similarity of a and b, in [0, 2].
// A zero-norm vector has no direction, so the distance is NaN and can never
// pass a threshold.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(b), len(a))
	}

	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return math.NaN(), nil
	}

	d := 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
	// rounding can push identical vectors slightly below zero
	return math.Min(2, math.Max(0, d)), nil
}

// SortMatches orders matches by ascending distance, then ascending ID.
func SortMatches(matches []Match) {
	slices.SortStableFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Finalize applies the strict threshold, the ordering and the limit, in that
// order. Store-backed searchers call it on what the store returned so every
// strategy shares the same ordering.
func Finalize(matches []Match, maxDistance float64, limit int) []Match {
	if limit <= 0 {
		return []Match{}
	}
	out := make([]Match, 0, min(len(matches), limit))
	for _, m := range matches {
		// NaN fails this comparison
		if m.Distance < maxDistance {
			out = append(out, m)
		}
	}
	SortMatches(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
