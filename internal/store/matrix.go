package store

import (
	"fmt"
	"os"
	"path/filepath"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// matrixMagic identifies the raw embeddings file. It shares the binary
// layout of the index file but is a distinct artifact: losing it keeps
// search working and degrades deletion to full re-embedding.
const matrixMagic = "DXEM"

// SaveMatrix writes the raw normalized embedding matrix to path, in the
// same ordinal order as the vector index, via temp file and rename.
func SaveMatrix(path string, dims int, vectors [][]float32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return dexerrors.New(dexerrors.ErrCodeFilePermission,
			fmt.Sprintf("create matrix directory: %v", err), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".matrix-*")
	if err != nil {
		return dexerrors.New(dexerrors.ErrCodeFilePermission,
			fmt.Sprintf("create temp matrix file: %v", err), err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeVectors(tmp, matrixMagic, dims, vectors); err != nil {
		tmp.Close()
		return fmt.Errorf("write matrix: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync matrix: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close matrix: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// LoadMatrix reads the raw embedding matrix. A missing file is reported
// with a distinct code so callers can degrade instead of failing.
func LoadMatrix(path string) ([][]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dexerrors.New(dexerrors.ErrCodeMatrixMissing,
				fmt.Sprintf("embedding matrix not found: %s", path), err).
				WithSuggestion("deletion degrades to rebuild-by-re-embedding until the matrix is regenerated")
		}
		return nil, dexerrors.New(dexerrors.ErrCodeFilePermission,
			fmt.Sprintf("open matrix file: %v", err), err)
	}
	defer file.Close()

	_, vectors, err := readVectors(file, matrixMagic)
	if err != nil {
		return nil, dexerrors.CorruptionError(dexerrors.ErrCodeCorruptIndex,
			path, "embedding matrix structure", err)
	}
	return vectors, nil
}
