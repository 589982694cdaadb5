// Package store holds the two persistent halves of an index: the SQLite
// metadata store (chunk and document rows, ordinal-ordered) and the flat
// vector index with its raw embedding matrix. The ordinal position of a
// chunk row equals the position of its vector in the index; package
// index enforces that contract.
package store

import "time"

// Document is one ingested file's bookkeeping row, including the
// indexing-parameter snapshot needed to reproduce its chunking.
type Document struct {
	DocumentID string
	Filename   string
	UnitCount  int
	ChunkCount int
	IndexedAt  time.Time

	SourceFormat     string
	ExtractionMethod string
	EmbeddingModel   string
	ChunkSize        int
	ChunkOverlap     int
}

// ChunkRow is a chunk as stored, including its assigned ordinal.
type ChunkRow struct {
	Ordinal    int // 0-indexed position, equals vector index position
	ChunkID    string
	DocumentID string
	Filename   string
	UnitNumber int
	ChunkIndex int
	Text       string
	CreatedAt  time.Time

	SourceFormat     string
	ExtractionMethod string
	Language         string
	SymbolName       string
	SymbolType       string
	LineStart        int
	LineEnd          int
	Partial          bool

	// RowData holds the column/value maps of a tabular chunk, one map
	// per source row; nil for non-tabular chunks.
	RowData []map[string]string
}

// SearchHit is one vector search result.
type SearchHit struct {
	Ordinal int
	Score   float32
}
