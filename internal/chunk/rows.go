package chunk

import (
	"fmt"
	"strings"
)

// RowChunker turns tabular data into chunks, grouping a fixed number of
// rows per chunk. Every chunk carries the header row so each one embeds
// with full column context.
type RowChunker struct {
	rowsPerChunk int
}

// NewRowChunker creates a row chunker. rowsPerChunk values below 1 are
// treated as 1 (one row per chunk).
func NewRowChunker(rowsPerChunk int) *RowChunker {
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}
	return &RowChunker{rowsPerChunk: rowsPerChunk}
}

// ChunkRows groups rows into chunks of rowsPerChunk. Each group becomes
// one unit with a single chunk, formatted as pipe-separated lines under
// the header. The column/value mapping of every row rides along as
// structured side data so consumers never have to re-parse the text.
func (c *RowChunker) ChunkRows(header []string, rows [][]string, documentID, filename string) []Chunk {
	if len(rows) == 0 {
		return nil
	}

	headerLine := strings.Join(header, " | ")
	separator := strings.Repeat("-", len(headerLine))

	var chunks []Chunk
	for start := 0; start < len(rows); start += c.rowsPerChunk {
		end := start + c.rowsPerChunk
		if end > len(rows) {
			end = len(rows)
		}

		lines := make([]string, 0, end-start+2)
		if headerLine != "" {
			lines = append(lines, headerLine, separator)
		}
		rowData := make([]map[string]string, 0, end-start)
		for _, row := range rows[start:end] {
			lines = append(lines, strings.Join(row, " | "))
			rowData = append(rowData, rowValues(header, row))
		}

		unit := start/c.rowsPerChunk + 1
		chunks = append(chunks, Chunk{
			ChunkID:    ID(documentID, unit, 0),
			DocumentID: documentID,
			Filename:   filename,
			UnitNumber: unit,
			ChunkIndex: 0,
			Text:       strings.Join(lines, "\n"),
			RowData:    rowData,
		})
	}

	return chunks
}

// rowValues zips one row against the header. Columns beyond the header
// get positional names so ragged rows lose nothing.
func rowValues(header, row []string) map[string]string {
	values := make(map[string]string, len(row))
	for i, cell := range row {
		if i < len(header) && header[i] != "" {
			values[header[i]] = cell
		} else {
			values[fmt.Sprintf("column_%d", i+1)] = cell
		}
	}
	return values
}
