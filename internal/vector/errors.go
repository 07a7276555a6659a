package vector

import "errors"

var (
	// ErrInvalidInput reports a malformed query (bad limit, threshold or vector).
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingUnavailable reports that the embedding provider failed or timed out.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrDimensionMismatch reports vectors of different lengths being compared.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrStoreUnavailable reports that the catalog store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)
