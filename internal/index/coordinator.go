package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quillstack/docdex/internal/ai"
	"github.com/quillstack/docdex/internal/chunk"
	"github.com/quillstack/docdex/internal/config"
	"github.com/quillstack/docdex/internal/embed"
	dexerrors "github.com/quillstack/docdex/internal/errors"
	"github.com/quillstack/docdex/internal/extract"
	"github.com/quillstack/docdex/internal/store"
)

// batchWorkers bounds concurrent extraction and embedding during
// batch indexing. Engine writes serialize behind its own lock.
const batchWorkers = 4

// Coordinator drives the full indexing pipeline for one collection:
// extract, chunk, embed, then hand the aligned chunk/vector pair to
// the engine in one consistent write.
type Coordinator struct {
	engine    *Engine
	extractor *extract.Registry
	embedder  embed.Embedder
	ai        *ai.Service // nil when AI features are off

	// docsDir holds a copy of every indexed source file. Reindex reads
	// from it, so indexing and the documents directory must stay in step.
	docsDir string

	textChunker *chunk.TextChunker
	rowChunker  *chunk.RowChunker
	codeChunker *chunk.CodeChunker

	chunkCfg  config.ChunkingConfig
	searchCfg config.SearchConfig
}

// NewCoordinator wires the pipeline. aiService may be nil. docsDir is
// the collection's documents directory; indexed sources are copied
// there so a later reindex can find them.
func NewCoordinator(engine *Engine, embedder embed.Embedder, aiService *ai.Service, cfg *config.Config, docsDir string) (*Coordinator, error) {
	textChunker, err := chunk.NewTextChunker(chunk.Config{
		Size:    cfg.Chunking.Size,
		Overlap: cfg.Chunking.Overlap,
	})
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		engine:      engine,
		extractor:   extract.NewRegistry(),
		embedder:    embedder,
		ai:          aiService,
		docsDir:     docsDir,
		textChunker: textChunker,
		rowChunker:  chunk.NewRowChunker(cfg.Chunking.RowsPerChunk),
		codeChunker: chunk.NewCodeChunker(cfg.Chunking.CodeSize, cfg.Chunking.CodeOverlap),
		chunkCfg:    cfg.Chunking,
		searchCfg:   cfg.Search,
	}, nil
}

// Engine returns the coordinator's engine.
func (c *Coordinator) Engine() *Engine { return c.engine }

// IndexReport summarizes one indexed document.
type IndexReport struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Format     string `json:"format"`
	Units      int    `json:"units"`
	Chunks     int    `json:"chunks"`
	// Replaced is true when an earlier version of the same content
	// hash was removed first.
	Replaced bool `json:"replaced"`
}

// IndexDocument ingests one file end to end. Re-ingesting content that
// is already indexed deletes the old version first, so the newest
// chunking and embedding always win.
func (c *Coordinator) IndexDocument(ctx context.Context, path string) (*IndexReport, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dexerrors.NotFound(dexerrors.ErrCodeFileNotFound, "file", path)
		}
		return nil, dexerrors.New(dexerrors.ErrCodeFilePermission,
			fmt.Sprintf("read %s: %v", path, err), err)
	}
	docID := chunk.DocumentID(content)
	filename := filepath.Base(path)

	result, err := c.extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	if len(result.Units) == 0 && len(result.Rows) == 0 {
		return nil, dexerrors.Newf(dexerrors.ErrCodeEmptyDocument,
			"%s produced no extractable text", filename)
	}

	chunks, err := c.chunksFor(ctx, result, docID, filename, content)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, dexerrors.Newf(dexerrors.ErrCodeEmptyDocument,
			"%s produced no chunks", filename)
	}

	// Embed before touching the stores: a failed embedding call must
	// leave an already-indexed version of this document intact.
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, dexerrors.Wrap(dexerrors.ErrCodeEmbeddingFailed, err)
	}

	if err := c.stashSource(path, filename, content); err != nil {
		return nil, err
	}

	replaced, err := c.engine.Metadata().DocumentExists(ctx, docID)
	if err != nil {
		return nil, err
	}
	if replaced {
		if _, err := c.engine.DeleteDocument(ctx, docID); err != nil {
			return nil, err
		}
	}

	if err := c.engine.AddChunks(ctx, chunks, vectors); err != nil {
		return nil, err
	}

	if err := c.engine.Metadata().UpsertDocument(ctx, store.Document{
		DocumentID:       docID,
		Filename:         filename,
		UnitCount:        len(result.Units),
		ChunkCount:       len(chunks),
		IndexedAt:        time.Now().UTC(),
		SourceFormat:     result.Format,
		ExtractionMethod: result.Method,
		EmbeddingModel:   c.embedder.ModelName(),
		ChunkSize:        c.chunkCfg.Size,
		ChunkOverlap:     c.chunkCfg.Overlap,
	}); err != nil {
		return nil, err
	}

	slog.Info("document_indexed",
		"document_id", docID,
		"filename", filename,
		"format", result.Format,
		"chunks", len(chunks),
		"replaced", replaced)

	return &IndexReport{
		DocumentID: docID,
		Filename:   filename,
		Format:     result.Format,
		Units:      len(result.Units),
		Chunks:     len(chunks),
		Replaced:   replaced,
	}, nil
}

// stashSource copies an indexed file into the documents directory so
// reindex can rebuild the collection from it. A source that already
// lives there is left alone.
func (c *Coordinator) stashSource(path, filename string, content []byte) error {
	if c.docsDir == "" {
		return nil
	}
	dest := filepath.Join(c.docsDir, filename)
	if absPath, err := filepath.Abs(path); err == nil {
		if absDest, err := filepath.Abs(dest); err == nil && absPath == absDest {
			return nil
		}
	}
	if err := os.MkdirAll(c.docsDir, 0o755); err != nil {
		return dexerrors.IOError("create documents directory", err)
	}
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return dexerrors.IOError(fmt.Sprintf("store source copy of %s", filename), err)
	}
	return nil
}

func (c *Coordinator) chunksFor(ctx context.Context, result *extract.Result, docID, filename string, content []byte) ([]chunk.Chunk, error) {
	switch result.Format {
	case extract.FormatCode:
		return c.codeChunker.ChunkFile(ctx, filename, content, docID)
	case extract.FormatCSV:
		return c.rowChunker.ChunkRows(result.Header, result.Rows, docID, filename), nil
	default:
		return c.textChunker.ChunkDocument(result.Units, docID, filename), nil
	}
}

// BatchReport collects per-file outcomes of a batch index run. One bad
// file never aborts the rest.
type BatchReport struct {
	Indexed []IndexReport `json:"indexed"`
	Failed  []BatchError  `json:"failed,omitempty"`
}

// BatchError is one file that could not be indexed.
type BatchError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// IndexBatch indexes many files with bounded concurrency. Extraction
// and embedding run in parallel; the engine serializes writes itself.
func (c *Coordinator) IndexBatch(ctx context.Context, paths []string) (*BatchReport, error) {
	var mu sync.Mutex
	report := &BatchReport{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)

	for _, path := range paths {
		path := path
		g.Go(func() error {
			r, err := c.IndexDocument(ctx, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Context cancellation stops the batch; anything else
				// is recorded against the file.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				report.Failed = append(report.Failed, BatchError{Path: path, Error: err.Error()})
				return nil
			}
			report.Indexed = append(report.Indexed, *r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	sort.Slice(report.Indexed, func(i, j int) bool {
		return report.Indexed[i].Filename < report.Indexed[j].Filename
	})
	slog.Info("batch_indexed", "indexed", len(report.Indexed), "failed", len(report.Failed))
	return report, nil
}

// SearchOptions tunes one search call.
type SearchOptions struct {
	TopK       int
	Rerank     bool
	Synthesize bool
}

// Hit is one search result joined back to its chunk metadata.
type Hit struct {
	store.ChunkRow
	Score float32 `json:"score"`
}

// SearchResult is a full search response.
type SearchResult struct {
	Query   string    `json:"query"`
	Hits    []Hit     `json:"hits"`
	Answer  string    `json:"answer,omitempty"`
	AIUsage *ai.Usage `json:"ai_usage,omitempty"`
}

// Search embeds the query, scans the index and joins each hit to its
// chunk by ordinal. With AI enabled it over-fetches candidates so the
// reranker has real material to work with; AI failures degrade to the
// plain vector ranking instead of failing the search.
func (c *Coordinator) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	if query == "" {
		return nil, dexerrors.Newf(dexerrors.ErrCodeInvalidInput, "query is empty")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = c.searchCfg.TopK
	}

	queryVec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, dexerrors.Wrap(dexerrors.ErrCodeEmbeddingFailed, err)
	}

	fetchK := topK
	rerank := opts.Rerank && c.ai != nil
	if rerank {
		fetchK = topK * c.searchCfg.OverfetchFactor
		if fetchK > c.searchCfg.OverfetchCap {
			fetchK = c.searchCfg.OverfetchCap
		}
		if fetchK < topK {
			fetchK = topK
		}
	}

	rawHits, err := c.engine.Search(queryVec, fetchK)
	if err != nil {
		return nil, dexerrors.Wrap(dexerrors.ErrCodeSearchFailed, err)
	}

	hits := make([]Hit, 0, len(rawHits))
	for _, h := range rawHits {
		row, err := c.engine.Metadata().ChunkByOrdinal(ctx, h.Ordinal)
		if err != nil {
			// A vector without a chunk means the stores drifted.
			return nil, dexerrors.Newf(dexerrors.ErrCodeIndexDrift,
				"search hit ordinal %d has no metadata chunk", h.Ordinal).
				WithSuggestion("run doctor to diagnose the collection")
		}
		row.Ordinal = h.Ordinal
		hits = append(hits, Hit{ChunkRow: *row, Score: h.Score})
	}

	result := &SearchResult{Query: query, Hits: hits}

	if rerank && len(hits) > 0 {
		result.Hits = c.rerankHits(ctx, query, hits, topK, result)
	}
	if len(result.Hits) > topK {
		result.Hits = result.Hits[:topK]
	}

	if opts.Synthesize && c.ai != nil && len(result.Hits) > 0 {
		answer, usage, err := c.ai.Synthesize(ctx, query, snippetsOf(result.Hits))
		if err != nil {
			slog.Warn("synthesis_skipped", "error", err)
		} else {
			result.Answer = answer
			result.AIUsage = usage
		}
	}
	return result, nil
}

func (c *Coordinator) rerankHits(ctx context.Context, query string, hits []Hit, topK int, result *SearchResult) []Hit {
	indices, usage, err := c.ai.Rerank(ctx, query, snippetsOf(hits), topK)
	if err != nil {
		slog.Warn("rerank_skipped", "error", err)
		return hits
	}
	result.AIUsage = usage

	reranked := make([]Hit, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(hits) {
			continue
		}
		reranked = append(reranked, hits[i])
	}
	if len(reranked) == 0 {
		return hits
	}
	return reranked
}

func snippetsOf(hits []Hit) []ai.Snippet {
	snippets := make([]ai.Snippet, len(hits))
	for i, h := range hits {
		snippets[i] = ai.Snippet{
			Index:    i,
			Filename: h.Filename,
			Unit:     h.UnitNumber,
			Text:     h.Text,
		}
	}
	return snippets
}
