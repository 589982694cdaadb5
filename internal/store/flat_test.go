package store

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

func TestFlatIndexAddAndCount(t *testing.T) {
	idx, err := NewFlatIndex(3)
	require.NoError(t, err)

	require.NoError(t, idx.Add([][]float32{{1, 0, 0}, {0, 1, 0}}))
	assert.Equal(t, 2, idx.Count())

	require.NoError(t, idx.Add([][]float32{{0, 0, 1}}))
	assert.Equal(t, 3, idx.Count())
}

func TestFlatIndexRejectsDimensionMismatch(t *testing.T) {
	idx, err := NewFlatIndex(3)
	require.NoError(t, err)

	// A bad vector anywhere in the batch rejects the whole batch.
	err = idx.Add([][]float32{{1, 0, 0}, {1, 0}})
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeDimensionMismatch, dexerrors.GetCode(err))
	assert.Zero(t, idx.Count())
}

func TestFlatIndexSearchOwnVector(t *testing.T) {
	idx, err := NewFlatIndex(4)
	require.NoError(t, err)

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.5, 0.5, 0, 0},
	}
	require.NoError(t, idx.Add(vectors))

	// Each stored vector must come back first with similarity ~1.0.
	for i, v := range vectors {
		hits, err := idx.Search(v, 3)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, i, hits[0].Ordinal)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	}
}

func TestFlatIndexSearchRanking(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)

	require.NoError(t, idx.Add([][]float32{
		{0, 1},   // orthogonal to the query
		{1, 0},   // identical
		{1, 0.2}, // close
	}))

	hits, err := idx.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 1, hits[0].Ordinal)
	assert.Equal(t, 2, hits[1].Ordinal)
	assert.Equal(t, 0, hits[2].Ordinal)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestFlatIndexSearchTiesBreakByOrdinal(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)

	// Two identical vectors: the earlier ordinal wins the tie.
	require.NoError(t, idx.Add([][]float32{{1, 0}, {1, 0}}))

	hits, err := idx.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Ordinal)
	assert.Equal(t, 1, hits[1].Ordinal)
}

func TestFlatIndexSearchEdgeCases(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)

	// Empty index returns no hits, no error.
	hits, err := idx.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, idx.Add([][]float32{{1, 0}}))

	// k larger than the index is capped.
	hits, err = idx.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	_, err = idx.Search([]float32{1, 0}, 0)
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeInvalidInput, dexerrors.GetCode(err))

	_, err = idx.Search([]float32{1, 0, 0}, 1)
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeDimensionMismatch, dexerrors.GetCode(err))
}

func TestFlatIndexSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.idx")

	idx, err := NewFlatIndex(3)
	require.NoError(t, err)
	require.NoError(t, idx.Add([][]float32{{1, 0, 0}, {0, 1, 0}, {0.6, 0.8, 0}}))
	require.NoError(t, idx.Save(path))

	loaded, err := LoadFlatIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Dimensions())
	assert.Equal(t, 3, loaded.Count())

	// Search results must be identical after a round trip.
	want, err := idx.Search([]float32{0.6, 0.8, 0}, 3)
	require.NoError(t, err)
	got, err := loaded.Search([]float32{0.6, 0.8, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Ordinal, got[i].Ordinal)
		assert.InDelta(t, want[i].Score, got[i].Score, 1e-6)
	}
}

func TestLoadFlatIndexMissingFile(t *testing.T) {
	_, err := LoadFlatIndex(filepath.Join(t.TempDir(), "absent.idx"))
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeFileNotFound, dexerrors.GetCode(err))
}

func TestLoadFlatIndexCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.idx")
	require.NoError(t, os.WriteFile(path, []byte("not a vector index"), 0o644))

	_, err := LoadFlatIndex(path)
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeCorruptIndex, dexerrors.GetCode(err))
}

func TestLoadFlatIndexLyingCountHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.idx")

	// A valid header claiming billions of vectors over one row of
	// data: the load must fail as corrupt, not allocate for the claim.
	var buf bytes.Buffer
	buf.WriteString(flatMagic)
	for _, h := range []uint32{flatFormatVersion, 2, 1 << 31} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, h))
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []float32{1, 0}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, err := LoadFlatIndex(path)
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeCorruptIndex, dexerrors.GetCode(err))
}

func TestSaveLoadMatrixRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.bin")

	vectors := [][]float32{{0.1, 0.2, 0.3}, {-1, 0, 1}}
	require.NoError(t, SaveMatrix(path, 3, vectors))

	got, err := LoadMatrix(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, vectors[0], got[0])
	assert.Equal(t, vectors[1], got[1])
}

func TestLoadMatrixMissing(t *testing.T) {
	_, err := LoadMatrix(filepath.Join(t.TempDir(), "absent.bin"))
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeMatrixMissing, dexerrors.GetCode(err))
}

func TestLoadMatrixRejectsIndexFile(t *testing.T) {
	dir := t.TempDir()
	idxPath := filepath.Join(dir, "vectors.idx")

	idx, err := NewFlatIndex(2)
	require.NoError(t, err)
	require.NoError(t, idx.Add([][]float32{{1, 0}}))
	require.NoError(t, idx.Save(idxPath))

	// The matrix and index files carry distinct magics.
	_, err = LoadMatrix(idxPath)
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeCorruptIndex, dexerrors.GetCode(err))
}
