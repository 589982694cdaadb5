package embed

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// embeddingClient is the slice of the OpenAI client we use; tests
// substitute a fake.
type embeddingClient interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder generates embeddings via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    embeddingClient
	model     string
	dims      int
	batchSize int
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder. The API key is
// read from OPENAI_API_KEY.
func NewOpenAIEmbedder(model string, dims, batchSize int) (*OpenAIEmbedder, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, dexerrors.New(dexerrors.ErrCodeConfigInvalid,
			"OPENAI_API_KEY environment variable not set", nil).
			WithSuggestion("export OPENAI_API_KEY or switch embedding.backend to static")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	return &OpenAIEmbedder{
		client:    openai.NewClient(key),
		model:     model,
		dims:      dims,
		batchSize: batchSize,
	}, nil
}

// Embed generates a normalized embedding for one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in API-sized sub-batches, preserving order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      texts,
		Dimensions: e.dims,
	})
	if err != nil {
		return nil, dexerrors.New(dexerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding request failed: %v", err), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, dexerrors.Newf(dexerrors.ErrCodeEmbeddingFailed,
			"embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, dexerrors.Newf(dexerrors.ErrCodeEmbeddingFailed,
				"embedding response index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.dims {
			return nil, dexerrors.Newf(dexerrors.ErrCodeDimensionMismatch,
				"model returned %d dimensions, expected %d", len(d.Embedding), e.dims)
		}
		vecs[d.Index] = Normalize(d.Embedding)
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Available reports whether a client was configured. Construction
// requires an API key, so a built embedder is always ready.
func (e *OpenAIEmbedder) Available() bool { return e.client != nil }

// Close is a no-op; the HTTP client owns no resources.
func (e *OpenAIEmbedder) Close() error { return nil }

var _ Embedder = (*OpenAIEmbedder)(nil)
