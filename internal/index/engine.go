package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/quillstack/docdex/internal/chunk"
	dexerrors "github.com/quillstack/docdex/internal/errors"
	"github.com/quillstack/docdex/internal/store"
)

// On-disk layout of a collection directory.
const (
	metadataFile = "metadata.db"
	indexFile    = "vectors.idx"
	matrixFile   = "embeddings.bin"
	lockFile     = ".writer.lock"
)

// MetadataPath returns the metadata database path inside dir.
func MetadataPath(dir string) string { return filepath.Join(dir, metadataFile) }

// IndexPath returns the vector index path inside dir.
func IndexPath(dir string) string { return filepath.Join(dir, indexFile) }

// MatrixPath returns the embedding matrix path inside dir.
func MatrixPath(dir string) string { return filepath.Join(dir, matrixFile) }

// Engine keeps the metadata store and the vector index of one
// collection consistent. All writes go metadata-first: a failure
// between the two stores leaves metadata ahead of the index, which
// diagnosis detects, instead of vectors that search can reach but
// metadata cannot explain.
//
// The normalized embedding matrix is carried alongside the index so
// documents can be deleted by rebuild without re-embedding.
type Engine struct {
	mu   sync.RWMutex
	dir  string
	dims int

	meta   *store.SQLiteStore
	idx    *store.FlatIndex
	matrix [][]float32

	// degraded is set when the matrix file is missing or does not
	// match the index row-for-row while vectors exist. Reads still
	// work; deletes fall back to soft-delete.
	degraded bool

	lock *flock.Flock
}

// Open opens the collection at dir, creating it if absent. It acquires
// an exclusive cross-process writer lock; a second writer gets an
// immediate ErrCodeIndexLocked instead of blocking.
func Open(dir string, dims int) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, dexerrors.New(dexerrors.ErrCodeFilePermission,
			fmt.Sprintf("create collection directory %s: %v", dir, err), err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire writer lock: %w", err)
	}
	if !acquired {
		return nil, dexerrors.Newf(dexerrors.ErrCodeIndexLocked,
			"collection %s is locked by another process", dir).
			WithSuggestion("wait for the other process to finish, or remove a stale " + lockFile)
	}

	e := &Engine{dir: dir, dims: dims, lock: lock}
	if err := e.load(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return e, nil
}

func (e *Engine) load() error {
	meta, err := store.NewSQLiteStore(MetadataPath(e.dir))
	if err != nil {
		return err
	}
	e.meta = meta

	idx, err := store.LoadFlatIndex(IndexPath(e.dir))
	switch {
	case err == nil:
		e.idx = idx
		e.dims = idx.Dimensions()
	case dexerrors.GetCode(err) == dexerrors.ErrCodeFileNotFound:
		e.idx, err = store.NewFlatIndex(e.dims)
		if err != nil {
			return err
		}
	default:
		// Corrupt index file. Leave it on disk for the doctor.
		return err
	}

	matrix, err := store.LoadMatrix(MatrixPath(e.dir))
	switch {
	case err == nil:
		e.matrix = matrix
		if len(matrix) != e.idx.Count() {
			// A short or long matrix cannot be trusted for deletes; the
			// drift itself is the doctor's to report and repair.
			e.degraded = true
			slog.Warn("matrix_index_mismatch", "dir", e.dir,
				"matrix_rows", len(matrix), "vectors", e.idx.Count())
		}
	case dexerrors.GetCode(err) == dexerrors.ErrCodeMatrixMissing:
		if e.idx.Count() > 0 {
			e.degraded = true
			slog.Warn("matrix_missing", "dir", e.dir, "vectors", e.idx.Count())
		}
	default:
		return err
	}
	return nil
}

// Dir returns the collection directory.
func (e *Engine) Dir() string { return e.dir }

// Metadata exposes the underlying metadata store for read paths.
func (e *Engine) Metadata() *store.SQLiteStore { return e.meta }

// Degraded reports whether the embedding matrix is unavailable.
func (e *Engine) Degraded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.degraded
}

// Close persists nothing (writes persist eagerly), releases the writer
// lock and closes the metadata store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.meta.Close()
	if unlockErr := e.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

// AddChunks appends chunks and their embeddings as one logical write.
// Metadata lands first; the matrix and index files are rewritten via
// temp-and-rename after the in-memory structures are extended.
func (e *Engine) AddChunks(ctx context.Context, chunks []chunk.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return dexerrors.Newf(dexerrors.ErrCodeInvalidInput, "no chunks to add")
	}
	if len(chunks) != len(vectors) {
		return dexerrors.Newf(dexerrors.ErrCodeChunkVectorMismatch,
			"%d chunks but %d vectors", len(chunks), len(vectors))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.degraded {
		return dexerrors.Newf(dexerrors.ErrCodeMatrixMissing,
			"embedding matrix missing, refusing to widen drift").
			WithSuggestion("run repair rebuild to regenerate the matrix before indexing")
	}

	if err := e.meta.AddChunks(ctx, chunks); err != nil {
		return err
	}
	if err := e.idx.Add(vectors); err != nil {
		// Metadata is now ahead of the index. That is the recoverable
		// direction: diagnosis reports out_of_sync and truncate or
		// rebuild restores the invariant.
		return dexerrors.Wrap(dexerrors.ErrCodeIndexFailed, err)
	}
	for _, v := range vectors {
		e.matrix = append(e.matrix, append([]float32(nil), v...))
	}
	return e.persist()
}

// DeleteResult reports a document deletion.
type DeleteResult struct {
	ChunksDeleted int
	FreedOrdinals []int
	// Degraded is true when the matrix was unavailable: metadata rows
	// are gone but stale vectors remain until a rebuild.
	Degraded bool
}

// DeleteDocument removes a document's metadata and rebuilds the index
// without its vectors. Freed ordinals are computed before any row is
// touched. When the matrix is unavailable the deletion degrades to
// metadata-only and says so.
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) (*DeleteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	count, freed, err := e.meta.DeleteDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return &DeleteResult{}, nil
	}

	if e.degraded {
		slog.Warn("delete_degraded", "document_id", documentID, "stale_vectors", count)
		return &DeleteResult{ChunksDeleted: count, FreedOrdinals: freed, Degraded: true}, nil
	}

	kept := make([][]float32, 0, len(e.matrix)-len(freed))
	drop := make(map[int]bool, len(freed))
	for _, ord := range freed {
		drop[ord] = true
	}
	for i, v := range e.matrix {
		if !drop[i] {
			kept = append(kept, v)
		}
	}

	idx, err := store.NewFlatIndex(e.dims)
	if err != nil {
		return nil, err
	}
	if err := idx.Add(kept); err != nil {
		return nil, err
	}
	e.idx = idx
	e.matrix = kept

	if err := e.persist(); err != nil {
		return nil, err
	}
	return &DeleteResult{ChunksDeleted: count, FreedOrdinals: freed}, nil
}

// Search runs an exact inner-product scan over a snapshot of the index.
func (e *Engine) Search(query []float32, k int) ([]store.SearchHit, error) {
	e.mu.RLock()
	idx := e.idx
	e.mu.RUnlock()
	return idx.Search(query, k)
}

// Stats describes the engine's current counts.
type Stats struct {
	Documents      int
	MetadataChunks int
	IndexVectors   int
	MatrixRows     int
	Degraded       bool
}

// Stats returns current counts from both stores.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	chunks, err := e.meta.TotalChunks(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := e.meta.DocumentsCount(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Documents:      docs,
		MetadataChunks: chunks,
		IndexVectors:   e.idx.Count(),
		MatrixRows:     len(e.matrix),
		Degraded:       e.degraded,
	}, nil
}

// Clear drops all metadata, vectors and the matrix. Used by reindex
// before re-adding everything.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.meta.ClearAll(ctx); err != nil {
		return err
	}
	idx, err := store.NewFlatIndex(e.dims)
	if err != nil {
		return err
	}
	e.idx = idx
	e.matrix = nil
	e.degraded = false
	return e.persist()
}

// replaceAll swaps in a freshly built index and matrix. Caller holds
// the write lock.
func (e *Engine) replaceAll(idx *store.FlatIndex, matrix [][]float32) error {
	e.idx = idx
	e.matrix = matrix
	e.degraded = false
	return e.persist()
}

func (e *Engine) persist() error {
	if err := e.idx.Save(IndexPath(e.dir)); err != nil {
		return err
	}
	return store.SaveMatrix(MatrixPath(e.dir), e.dims, e.matrix)
}
