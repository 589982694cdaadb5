package embed

import (
	"context"
	"log/slog"
	"time"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// RetryEmbedder retries transient embedding failures with exponential
// backoff. Non-retryable errors fail immediately.
type RetryEmbedder struct {
	inner      Embedder
	maxRetries int
	backoff    time.Duration
}

// NewRetryEmbedder wraps inner with retry behavior.
func NewRetryEmbedder(inner Embedder, maxRetries int, backoff time.Duration) *RetryEmbedder {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &RetryEmbedder{inner: inner, maxRetries: maxRetries, backoff: backoff}
}

func (r *RetryEmbedder) retry(ctx context.Context, op func() error) error {
	var err error
	delay := r.backoff

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("embedding_retry",
				"attempt", attempt,
				"max_retries", r.maxRetries,
				"delay", delay.String(),
				"error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		err = op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}

// retryable treats network failures and embedding request failures as
// transient; everything else fails fast.
func retryable(err error) bool {
	if dexerrors.IsRetryable(err) {
		return true
	}
	return dexerrors.GetCode(err) == dexerrors.ErrCodeEmbeddingFailed
}

// Embed embeds a single text with retries.
func (r *RetryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := r.retry(ctx, func() error {
		var e error
		vec, e = r.inner.Embed(ctx, text)
		return e
	})
	return vec, err
}

// EmbedBatch embeds a batch with retries.
func (r *RetryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := r.retry(ctx, func() error {
		var e error
		vecs, e = r.inner.EmbedBatch(ctx, texts)
		return e
	})
	return vecs, err
}

// Dimensions returns the inner embedder's dimension.
func (r *RetryEmbedder) Dimensions() int { return r.inner.Dimensions() }

// ModelName returns the inner embedder's model identifier.
func (r *RetryEmbedder) ModelName() string { return r.inner.ModelName() }

// Available reports the inner embedder's readiness.
func (r *RetryEmbedder) Available() bool { return r.inner.Available() }

// Close closes the inner embedder.
func (r *RetryEmbedder) Close() error { return r.inner.Close() }

var _ Embedder = (*RetryEmbedder)(nil)
