package embed

import (
	"fmt"

	"github.com/quillstack/docdex/internal/config"
	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// New builds the embedder stack from configuration: the selected
// backend wrapped with retries and a query cache.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var base Embedder

	switch cfg.Backend {
	case "openai":
		e, err := NewOpenAIEmbedder(cfg.Model, cfg.Dimensions, cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		base = e
	case "static":
		base = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, dexerrors.New(dexerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embedding backend %q", cfg.Backend), nil)
	}

	retrying := NewRetryEmbedder(base, DefaultMaxRetries, DefaultRetryBackoff)
	return NewCachedEmbedder(retrying, cfg.CacheSize), nil
}
