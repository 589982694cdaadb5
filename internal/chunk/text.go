package chunk

import (
	"log/slog"
	"sort"
	"strings"
)

// sentence boundaries tried in order; the first hit wins
var boundaryDelimiters = []string{". ", "! ", "? ", "\n\n", "\n"}

// TextChunker splits plain text into overlapping chunks.
type TextChunker struct {
	size    int
	overlap int
}

// NewTextChunker creates a text chunker; cfg must validate.
func NewTextChunker(cfg Config) (*TextChunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TextChunker{size: cfg.Size, overlap: cfg.Overlap}, nil
}

// ChunkDocument splits a document's extraction units into chunks.
// Units are processed in ascending unit-number order so chunk IDs and
// ordering are deterministic. Empty units are skipped.
func (c *TextChunker) ChunkDocument(units map[int]string, documentID, filename string) []Chunk {
	unitNumbers := make([]int, 0, len(units))
	for n := range units {
		unitNumbers = append(unitNumbers, n)
	}
	sort.Ints(unitNumbers)

	var chunks []Chunk
	for _, unit := range unitNumbers {
		text := units[unit]
		if strings.TrimSpace(text) == "" {
			slog.Debug("skipping_empty_unit", "filename", filename, "unit", unit)
			continue
		}

		for idx, piece := range c.Split(text) {
			chunks = append(chunks, Chunk{
				ChunkID:    ID(documentID, unit, idx),
				DocumentID: documentID,
				Filename:   filename,
				UnitNumber: unit,
				ChunkIndex: idx,
				Text:       piece,
			})
		}
	}

	return chunks
}

// Split divides text into overlapping pieces of roughly c.size characters.
// Where possible each piece ends at a sentence boundary found in the last
// 20% of the window; failing that it ends at a word boundary, and failing
// that it is a hard cut.
func (c *TextChunker) Split(text string) []string {
	if len(text) <= c.size {
		return []string{text}
	}

	var pieces []string
	start := 0

	for start < len(text) {
		end := start + c.size

		if end < len(text) {
			end = c.snapToBoundary(text, start, end)
		}

		// end may overrun on the final window; the advance below still
		// uses the un-clamped value so the loop terminates.
		sliceEnd := end
		if sliceEnd > len(text) {
			sliceEnd = len(text)
		}

		piece := strings.TrimSpace(text[start:sliceEnd])
		if piece != "" {
			pieces = append(pieces, piece)
		}

		// The boundary snap can pull end back far enough that sliding by
		// the overlap would land at or before the current start. Advance
		// to end instead of re-emitting the same window.
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return pieces
}

// snapToBoundary pulls end back to the nearest sentence or word boundary
// inside the final 20% of the window. Returns end unchanged when no
// boundary exists there.
func (c *TextChunker) snapToBoundary(text string, start, end int) int {
	searchStart := end - c.size/5
	if searchStart < start {
		searchStart = start
	}
	window := text[searchStart:end]

	for _, delim := range boundaryDelimiters {
		if i := strings.LastIndex(window, delim); i != -1 {
			return searchStart + i + len(delim)
		}
	}

	if i := strings.LastIndex(window, " "); i != -1 {
		return searchStart + i + 1
	}

	return end
}
