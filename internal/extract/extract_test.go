package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistrySupported(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Supported("notes.txt"))
	assert.True(t, r.Supported("README.md"))
	assert.True(t, r.Supported("data.CSV"))
	assert.True(t, r.Supported("main.go"))
	assert.False(t, r.Supported("scan.pdf"))
}

func TestRegistryUnsupportedFormat(t *testing.T) {
	r := NewRegistry()

	_, err := r.Extract("/tmp/document.pdf")
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeUnsupportedFormat, dexerrors.GetCode(err))
}

func TestTextExtract(t *testing.T) {
	path := writeFile(t, "notes.txt", "  hello world\nsecond line  \n")

	res, err := NewRegistry().Extract(path)
	require.NoError(t, err)

	assert.Equal(t, FormatText, res.Format)
	require.Len(t, res.Units, 1)
	assert.Equal(t, "hello world\nsecond line", res.Units[1])
}

func TestTextExtractLatin1Fallback(t *testing.T) {
	// 0xE9 is 'é' in Latin-1 but invalid standalone UTF-8.
	path := filepath.Join(t.TempDir(), "legacy.txt")
	require.NoError(t, os.WriteFile(path, []byte{'c', 'a', 'f', 0xE9}, 0o644))

	res, err := NewRegistry().Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "café", res.Units[1])
}

func TestTextExtractMissingFile(t *testing.T) {
	_, err := NewRegistry().Extract(filepath.Join(t.TempDir(), "ghost.txt"))
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeFileNotFound, dexerrors.GetCode(err))
}

func TestMarkdownExtractSections(t *testing.T) {
	content := `# Title

Intro paragraph.

## Install

Run the installer.

### Details

Deep subsection stays with Install.

## Usage

Use it.
`
	path := writeFile(t, "doc.md", content)

	res, err := NewRegistry().Extract(path)
	require.NoError(t, err)

	require.Len(t, res.Units, 3)
	assert.Contains(t, res.Units[1], "# Title")
	assert.Contains(t, res.Units[2], "## Install")
	assert.Contains(t, res.Units[2], "### Details")
	assert.Contains(t, res.Units[3], "## Usage")
}

func TestMarkdownHeadingInsideFenceIgnored(t *testing.T) {
	content := "# Only\n\n```\n# not a heading\n```\n\ntail\n"
	path := writeFile(t, "fence.md", content)

	res, err := NewRegistry().Extract(path)
	require.NoError(t, err)
	require.Len(t, res.Units, 1)
}

func TestCSVExtract(t *testing.T) {
	path := writeFile(t, "data.csv", "id,name\n1,alpha\n2,beta\n")

	res, err := NewRegistry().Extract(path)
	require.NoError(t, err)

	assert.Equal(t, FormatCSV, res.Format)
	assert.Equal(t, []string{"id", "name"}, res.Header)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []string{"2", "beta"}, res.Rows[1])
}

func TestCSVExtractEmpty(t *testing.T) {
	path := writeFile(t, "empty.csv", "")

	res, err := NewRegistry().Extract(path)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Empty(t, res.Header)
}

func TestCodeExtract(t *testing.T) {
	path := writeFile(t, "main.go", "package main\n\nfunc main() {}\n")

	res, err := NewRegistry().Extract(path)
	require.NoError(t, err)
	assert.Equal(t, FormatCode, res.Format)
	assert.Contains(t, res.Units[1], "func main()")
}
