package extract

import (
	"encoding/csv"
	"fmt"
	"os"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// CSVExtractor parses tabular files, exposing the header and raw rows
// for row-based chunking.
type CSVExtractor struct{}

func (e *CSVExtractor) Extensions() []string {
	return []string{".csv", ".tsv"}
}

func (e *CSVExtractor) Extract(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dexerrors.New(dexerrors.ErrCodeFileNotFound,
				fmt.Sprintf("file not found: %s", path), err)
		}
		return nil, dexerrors.New(dexerrors.ErrCodeFilePermission,
			fmt.Sprintf("open %s: %v", path, err), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if len(path) > 4 && path[len(path)-4:] == ".tsv" {
		r.Comma = '\t'
	}
	// Tolerate ragged rows; real-world exports are rarely rectangular.
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, dexerrors.New(dexerrors.ErrCodeInvalidInput,
			fmt.Sprintf("parse %s: %v", path, err), err)
	}

	res := &Result{
		Units:  make(map[int]string),
		Format: FormatCSV,
		Method: "csv_rows",
	}
	if len(records) == 0 {
		return res, nil
	}

	res.Header = records[0]
	res.Rows = records[1:]
	return res, nil
}
