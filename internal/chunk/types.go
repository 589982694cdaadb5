// Package chunk splits extracted document text into overlapping,
// embeddable chunks. Plain text uses a sliding character window with
// sentence-boundary snapping; source code uses AST-aware symbol chunks.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// Chunking defaults.
const (
	DefaultSize    = 600 // target characters per text chunk
	DefaultOverlap = 100 // characters shared between adjacent chunks

	DefaultCodeSize    = 1500 // larger window for code symbols
	DefaultCodeOverlap = 10   // line overlap when splitting oversized symbols
)

// Config holds chunker sizing parameters.
type Config struct {
	Size    int
	Overlap int
}

// DefaultConfig returns the standard text chunking configuration.
func DefaultConfig() Config {
	return Config{Size: DefaultSize, Overlap: DefaultOverlap}
}

// Validate checks the sizing invariants.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return dexerrors.New(dexerrors.ErrCodeChunkerConfig,
			fmt.Sprintf("chunk size must be positive, got %d", c.Size), nil)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return dexerrors.New(dexerrors.ErrCodeChunkerConfig,
			fmt.Sprintf("overlap %d must be non-negative and less than size %d", c.Overlap, c.Size), nil)
	}
	return nil
}

// Chunk is one embeddable unit of a document.
type Chunk struct {
	// ChunkID is "{documentID}_p{unit}_c{index}".
	ChunkID    string
	DocumentID string
	Filename   string
	// UnitNumber is the 1-indexed page/section the chunk came from.
	UnitNumber int
	// ChunkIndex is the 0-indexed position within the unit.
	ChunkIndex int
	Text       string

	// Code-only fields; zero for plain text chunks.
	Language   string
	SymbolName string
	SymbolType string
	LineStart  int
	LineEnd    int
	// Partial marks a chunk that is one slice of an oversized symbol.
	Partial bool

	// RowData carries the column/value maps of a tabular chunk, one
	// map per source row; nil otherwise.
	RowData []map[string]string
}

// ID builds the canonical chunk identifier.
func ID(documentID string, unit, index int) string {
	return fmt.Sprintf("%s_p%d_c%d", documentID, unit, index)
}

// DocumentID derives a stable document identifier from content:
// the first 16 hex characters of its SHA-256 digest.
func DocumentID(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16]
}
