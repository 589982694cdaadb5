// Package extract turns document files into chunkable text. Each format
// has an extractor that produces numbered extraction units (pages or
// sections); tabular formats also expose their raw rows.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// Source formats recorded on documents.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
	FormatCode     = "code"
)

// Result is the output of extraction.
type Result struct {
	// Units maps 1-indexed unit numbers to extracted text.
	Units map[int]string
	// Format is one of the Format constants.
	Format string
	// Method names the extraction path taken, for diagnostics.
	Method string

	// Header and Rows are set for tabular formats only.
	Header []string
	Rows   [][]string
}

// Extractor extracts text from one family of file formats.
type Extractor interface {
	Extract(path string) (*Result, error)
	Extensions() []string
}

// Registry routes files to extractors by extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry builds a registry with all built-in extractors.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	r.Register(&TextExtractor{})
	r.Register(&MarkdownExtractor{})
	r.Register(&CSVExtractor{})
	r.Register(&CodeExtractor{})
	return r
}

// Register adds an extractor for its extensions. Later registrations
// win on conflict.
func (r *Registry) Register(e Extractor) {
	for _, ext := range e.Extensions() {
		r.byExt[strings.ToLower(ext)] = e
	}
}

// Supported reports whether the file's extension has an extractor.
func (r *Registry) Supported(filename string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// SupportedExtensions lists registered extensions, sorted.
func (r *Registry) SupportedExtensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract runs the extractor matching the file's extension.
func (r *Registry) Extract(path string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return nil, dexerrors.New(dexerrors.ErrCodeUnsupportedFormat,
			fmt.Sprintf("unsupported file type %q (supported: %s)",
				ext, strings.Join(r.SupportedExtensions(), ", ")), nil).
			WithSuggestion("convert the file to a supported format")
	}
	return e.Extract(path)
}

// readFileText reads a file as text, decoding as UTF-8 when valid and
// falling back to Latin-1 otherwise.
func readFileText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", dexerrors.New(dexerrors.ErrCodeFileNotFound,
				fmt.Sprintf("file not found: %s", path), err)
		}
		return "", dexerrors.New(dexerrors.ErrCodeFilePermission,
			fmt.Sprintf("read %s: %v", path, err), err)
	}
	return decodeText(data), nil
}

func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	// Latin-1: every byte maps directly to the same code point.
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}
