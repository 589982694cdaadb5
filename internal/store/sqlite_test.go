package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillstack/docdex/internal/chunk"
	dexerrors "github.com/quillstack/docdex/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testChunks(docID string, n int) []chunk.Chunk {
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

func TestSQLiteStoreMigration(t *testing.T) {
	s := newTestStore(t)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)
}

func TestSQLiteStoreMigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.AddChunks(context.Background(), testChunks("doc1", 2)))
	require.NoError(t, s.Close())

	// Reopen: migrations must not run again or disturb data.
	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	total, err := s2.TotalChunks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	v, err := s2.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)
}

func TestAddChunksRejectsDuplicateIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, testChunks("doc1", 1)))

	err := s.AddChunks(ctx, testChunks("doc1", 1))
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeInvalidInput, dexerrors.GetCode(err))
}

func TestChunkByOrdinalFollowsInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, testChunks("doc1", 3)))
	require.NoError(t, s.AddChunks(ctx, testChunks("doc2", 2)))

	// Ordinal 3 is the first chunk of the second document.
	row, err := s.ChunkByOrdinal(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "doc2", row.DocumentID)
	assert.Equal(t, 0, row.ChunkIndex)
	assert.Equal(t, 3, row.Ordinal)

	row, err = s.ChunkByOrdinal(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "doc1", row.DocumentID)
}

func TestChunkByOrdinalOutOfRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, testChunks("doc1", 2)))

	_, err := s.ChunkByOrdinal(ctx, 2)
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeChunkNotFound, dexerrors.GetCode(err))
}

func TestChunkOrdinalsAreGlobal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, testChunks("doc1", 3)))
	require.NoError(t, s.AddChunks(ctx, testChunks("doc2", 2)))
	require.NoError(t, s.AddChunks(ctx, testChunks("doc3", 1)))

	ordinals, err := s.ChunkOrdinals(ctx, "doc2")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, ordinals)

	ordinals, err = s.ChunkOrdinals(ctx, "doc3")
	require.NoError(t, err)
	assert.Equal(t, []int{5}, ordinals)
}

func TestDeleteDocumentReturnsFreedOrdinals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, testChunks("doc1", 2)))
	require.NoError(t, s.AddChunks(ctx, testChunks("doc2", 3)))
	require.NoError(t, s.AddChunks(ctx, testChunks("doc3", 1)))

	count, freed, err := s.DeleteDocument(ctx, "doc2")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, []int{2, 3, 4}, freed)

	total, err := s.TotalChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	exists, err := s.DocumentExists(ctx, "doc2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDeleteDocumentMissing(t *testing.T) {
	s := newTestStore(t)

	count, freed, err := s.DeleteDocument(context.Background(), "nope")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, freed)
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{
		DocumentID:       "doc1",
		Filename:         "doc1.txt",
		UnitCount:        1,
		ChunkCount:       3,
		SourceFormat:     "text",
		ExtractionMethod: "plain_text",
		EmbeddingModel:   "static-hash",
		ChunkSize:        600,
		ChunkOverlap:     100,
	}
	require.NoError(t, s.AddChunks(ctx, testChunks("doc1", 3)))
	require.NoError(t, s.UpsertDocument(ctx, doc))

	got, err := s.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, doc.Filename, got.Filename)
	assert.Equal(t, doc.ChunkCount, got.ChunkCount)
	assert.Equal(t, doc.EmbeddingModel, got.EmbeddingModel)

	_, err = s.GetDocument(ctx, "ghost")
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeDocumentNotFound, dexerrors.GetCode(err))

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc1", docs[0].DocumentID)
}

func TestChunksForDocumentOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunks := []chunk.Chunk{
		{ChunkID: chunk.ID("doc1", 2, 0), DocumentID: "doc1", Filename: "doc1.md", UnitNumber: 2, ChunkIndex: 0, Text: "second section"},
		{ChunkID: chunk.ID("doc1", 1, 1), DocumentID: "doc1", Filename: "doc1.md", UnitNumber: 1, ChunkIndex: 1, Text: "first section, part two"},
		{ChunkID: chunk.ID("doc1", 1, 0), DocumentID: "doc1", Filename: "doc1.md", UnitNumber: 1, ChunkIndex: 0, Text: "first section, part one"},
	}
	require.NoError(t, s.AddChunks(ctx, chunks))

	got, err := s.ChunksForDocument(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "doc1_p1_c0", got[0].ChunkID)
	assert.Equal(t, "doc1_p1_c1", got[1].ChunkID)
	assert.Equal(t, "doc1_p2_c0", got[2].ChunkID)
}

func TestReconstructDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, testChunks("doc1", 2)))
	require.NoError(t, s.AddChunks(ctx, testChunks("doc2", 3)))

	orphans, err := s.OrphanedChunkCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, orphans)

	repaired, err := s.ReconstructDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, repaired, 2)
	for _, r := range repaired {
		assert.NoError(t, r.Err)
	}

	orphans, err = s.OrphanedChunkCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, orphans)

	doc, err := s.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.ChunkCount)
	assert.Equal(t, "doc1.txt", doc.Filename)
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, testChunks("doc1", 2)))
	require.NoError(t, s.UpsertDocument(ctx, Document{DocumentID: "doc1", Filename: "doc1.txt"}))

	require.NoError(t, s.ClearAll(ctx))

	total, err := s.TotalChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)

	n, err := s.DocumentsCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTabularRowDataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := chunk.Chunk{
		ChunkID:    chunk.ID("doc1", 1, 0),
		DocumentID: "doc1",
		Filename:   "prices.csv",
		UnitNumber: 1,
		ChunkIndex: 0,
		Text:       "sku | price\n-----------\nA-1 | 9.99\nB-2 | 14.50",
		RowData: []map[string]string{
			{"sku": "A-1", "price": "9.99"},
			{"sku": "B-2", "price": "14.50"},
		},
	}
	require.NoError(t, s.AddChunks(ctx, []chunk.Chunk{c, testChunks("doc2", 1)[0]}))

	row, err := s.ChunkByOrdinal(ctx, 0)
	require.NoError(t, err)
	require.Len(t, row.RowData, 2)
	assert.Equal(t, "9.99", row.RowData[0]["price"])
	assert.Equal(t, "B-2", row.RowData[1]["sku"])

	// Non-tabular chunks come back with no side data.
	plain, err := s.ChunkByOrdinal(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, plain.RowData)
}

func TestCodeChunkMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := chunk.Chunk{
		ChunkID:    chunk.ID("doc1", 1, 0),
		DocumentID: "doc1",
		Filename:   "main.go",
		UnitNumber: 1,
		ChunkIndex: 0,
		Text:       "func main() {}",
		Language:   "go",
		SymbolName: "main",
		SymbolType: "function",
		LineStart:  3,
		LineEnd:    5,
		Partial:    true,
	}
	require.NoError(t, s.AddChunks(ctx, []chunk.Chunk{c}))

	row, err := s.ChunkByOrdinal(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "go", row.Language)
	assert.Equal(t, "main", row.SymbolName)
	assert.Equal(t, "function", row.SymbolType)
	assert.Equal(t, 3, row.LineStart)
	assert.Equal(t, 5, row.LineEnd)
	assert.True(t, row.Partial)
	assert.Equal(t, "code", row.SourceFormat)
}
