package index

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillstack/docdex/internal/chunk"
	dexerrors "github.com/quillstack/docdex/internal/errors"
	"github.com/quillstack/docdex/internal/store"
)

const testDims = 4

func openTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := Open(dir, testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func engineChunks(docID string, n int) []chunk.Chunk {
	chunks := make([]chunk.Chunk, n)
	for i := 0; i < n; i++ {
		chunks[i] = chunk.Chunk{
			ChunkID:    chunk.ID(docID, 1, i),
			DocumentID: docID,
			Filename:   docID + ".txt",
			UnitNumber: 1,
			ChunkIndex: i,
			Text:       fmt.Sprintf("chunk %d of %s", i, docID),
		}
	}
	return chunks
}

func engineVectors(n int, seed float32) [][]float32 {
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = []float32{seed, float32(i + 1), 1, 0}
	}
	return vectors
}

func TestEngineAddAndSearch(t *testing.T) {
	e := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, e.AddChunks(ctx, engineChunks("doc1", 2), [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	}))

	hits, err := e.Search([]float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].Ordinal)

	row, err := e.Metadata().ChunkByOrdinal(ctx, hits[0].Ordinal)
	require.NoError(t, err)
	assert.Equal(t, "doc1_p1_c1", row.ChunkID)
}

func TestEngineRejectsChunkVectorMismatch(t *testing.T) {
	e := openTestEngine(t, t.TempDir())

	err := e.AddChunks(context.Background(), engineChunks("doc1", 2), engineVectors(3, 1))
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeChunkVectorMismatch, dexerrors.GetCode(err))

	// Nothing landed in either store.
	stats, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.MetadataChunks)
	assert.Zero(t, stats.IndexVectors)
}

func TestEnginePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e, err := Open(dir, testDims)
	require.NoError(t, err)
	require.NoError(t, e.AddChunks(ctx, engineChunks("doc1", 3), engineVectors(3, 1)))
	require.NoError(t, e.Close())

	e2 := openTestEngine(t, dir)
	stats, err := e2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.MetadataChunks)
	assert.Equal(t, 3, stats.IndexVectors)
	assert.Equal(t, 3, stats.MatrixRows)
	assert.False(t, stats.Degraded)
}

func TestEngineSecondWriterIsRefused(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(dir, testDims)
	require.NoError(t, err)
	defer e.Close()

	_, err = Open(dir, testDims)
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeIndexLocked, dexerrors.GetCode(err))
}

func TestEngineDeleteRebuildsIndex(t *testing.T) {
	e := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, e.AddChunks(ctx, engineChunks("doc1", 2), [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	}))
	require.NoError(t, e.AddChunks(ctx, engineChunks("doc2", 1), [][]float32{
		{0, 0, 1, 0},
	}))

	res, err := e.DeleteDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.ChunksDeleted)
	assert.Equal(t, []int{0, 1}, res.FreedOrdinals)
	assert.False(t, res.Degraded)

	// doc2's vector now lives at ordinal 0 and still resolves.
	hits, err := e.Search([]float32{0, 0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].Ordinal)

	row, err := e.Metadata().ChunkByOrdinal(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "doc2", row.DocumentID)
}

func TestEngineDeleteMissingDocument(t *testing.T) {
	e := openTestEngine(t, t.TempDir())

	res, err := e.DeleteDocument(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Zero(t, res.ChunksDeleted)
}

func TestEngineDegradedWhenMatrixMissing(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e, err := Open(dir, testDims)
	require.NoError(t, err)
	require.NoError(t, e.AddChunks(ctx, engineChunks("doc1", 2), engineVectors(2, 1)))
	require.NoError(t, e.Close())

	require.NoError(t, os.Remove(MatrixPath(dir)))

	e2 := openTestEngine(t, dir)
	assert.True(t, e2.Degraded())

	// Reads still work.
	hits, err := e2.Search([]float32{1, 1, 1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	// Writes are refused to keep drift from widening.
	err = e2.AddChunks(ctx, engineChunks("doc2", 1), engineVectors(1, 2))
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeMatrixMissing, dexerrors.GetCode(err))

	// Deletes degrade to metadata-only and say so.
	res, err := e2.DeleteDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, 2, res.ChunksDeleted)

	stats, err := e2.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.MetadataChunks)
	assert.Equal(t, 2, stats.IndexVectors, "stale vectors remain until rebuild")
}

func TestEngineShortMatrixDegradesDeletes(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e, err := Open(dir, testDims)
	require.NoError(t, err)
	require.NoError(t, e.AddChunks(ctx, engineChunks("doc1", 3), engineVectors(3, 1)))
	require.NoError(t, e.Close())

	// Truncate the matrix one row short of the index.
	matrix, err := store.LoadMatrix(MatrixPath(dir))
	require.NoError(t, err)
	require.NoError(t, store.SaveMatrix(MatrixPath(dir), testDims, matrix[:2]))

	e2 := openTestEngine(t, dir)
	assert.True(t, e2.Degraded(), "a matrix that disagrees with the index cannot drive deletes")

	// Deleting must fall back to metadata-only instead of slicing a
	// matrix it cannot trust.
	res, err := e2.DeleteDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, 3, res.ChunksDeleted)
}

func TestEngineClear(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e := openTestEngine(t, dir)
	require.NoError(t, e.AddChunks(ctx, engineChunks("doc1", 2), engineVectors(2, 1)))
	require.NoError(t, e.Clear(ctx))

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.MetadataChunks)
	assert.Zero(t, stats.IndexVectors)
	assert.Zero(t, stats.MatrixRows)
}
