// Package embed generates vector embeddings for chunk text. All
// embedders return unit-length vectors so inner product search equals
// cosine similarity.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize caps texts per embedding request.
	DefaultBatchSize = 100

	// MaxBatchSize is the hard ceiling for one request.
	MaxBatchSize = 2048

	// DefaultCacheSize is the query-embedding LRU capacity.
	DefaultCacheSize = 1000

	// StaticDimensions is the dimension of the offline hash embedder.
	StaticDimensions = 256

	// DefaultMaxRetries is the retry budget for transient failures.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the initial retry delay; it doubles per attempt.
	DefaultRetryBackoff = 500 * time.Millisecond
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the embedder is ready to serve
	// requests. A closed or misconfigured embedder returns false.
	Available() bool

	// Close releases resources.
	Close() error
}

// Normalize scales v to unit length. Zero vectors are returned as-is.
func Normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / magnitude)
	}
	return out
}
