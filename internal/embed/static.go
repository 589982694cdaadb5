package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// Feature weights for the hash embedder.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticEmbedder produces deterministic hash-based embeddings with no
// network or model dependency. Quality is far below a learned model;
// it exists for offline use and tests.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder creates a static embedder. Non-positive dims uses
// StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates a normalized embedding for one text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, dexerrors.Newf(dexerrors.ErrCodeInternal, "embedder is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}

	vec := make([]float32, e.dims)
	for _, token := range tokenize(trimmed) {
		vec[hashToIndex(token, e.dims)] += tokenWeight
	}
	lowered := strings.ToLower(trimmed)
	for i := 0; i+ngramSize <= len(lowered); i++ {
		vec[hashToIndex(lowered[i:i+ngramSize], e.dims)] += ngramWeight
	}

	return Normalize(vec), nil
}

// EmbedBatch embeds each text in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string { return "static-hash" }

// Available reports true until the embedder is closed.
func (e *StaticEmbedder) Available() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// tokenize lowercases and splits text into alphanumeric tokens, also
// breaking camelCase identifiers so code and prose hash alike.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenPattern.FindAllString(text, -1) {
		for _, part := range splitCamel(word) {
			if part != "" {
				tokens = append(tokens, strings.ToLower(part))
			}
		}
	}
	return tokens
}

func splitCamel(word string) []string {
	var parts []string
	start := 0
	for i := 1; i < len(word); i++ {
		if word[i] >= 'A' && word[i] <= 'Z' && word[i-1] >= 'a' && word[i-1] <= 'z' {
			parts = append(parts, word[start:i])
			start = i
		}
	}
	return append(parts, word[start:])
}

func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

var _ Embedder = (*StaticEmbedder)(nil)
