package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// extractJSONField digs a string field out of the first JSON object in
// the batch report output.
func extractJSONField(t *testing.T, out, field string) string {
	t.Helper()

	var report struct {
		Indexed []map[string]any `json:"indexed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.NotEmpty(t, report.Indexed)
	value, _ := report.Indexed[0][field].(string)
	require.NotEmpty(t, value)
	return value
}

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// useTempData points the CLI at a scratch data dir with the static
// embedder, so tests touch no network and no home directory.
func useTempData(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("DOCDEX_DATA_DIR", dataDir)
	t.Setenv("DOCDEX_EMBEDDING_BACKEND", "static")
	t.Setenv("DOCDEX_EMBEDDING_DIMENSIONS", "256")
	// Keep logs inside the sandbox too.
	t.Setenv("HOME", dataDir)
	return dataDir
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "docdex")
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"index", "search", "doctor", "repair", "reindex", "backup", "restore"} {
		assert.Contains(t, out, sub)
	}
}

func TestIndexSearchStatusFlow(t *testing.T) {
	dataDir := useTempData(t)

	doc := filepath.Join(dataDir, "notes.txt")
	require.NoError(t, writeFile(doc, "Sourdough needs a lively starter and patience."))

	out, err := execute(t, "index", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "indexed notes.txt")

	out, err = execute(t, "search", "sourdough starter")
	require.NoError(t, err)
	assert.Contains(t, out, "notes.txt")

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "documents: 1")

	out, err = execute(t, "documents")
	require.NoError(t, err)
	assert.Contains(t, out, "notes.txt")
}

func TestDoctorOnHealthyCollection(t *testing.T) {
	dataDir := useTempData(t)

	doc := filepath.Join(dataDir, "notes.txt")
	require.NoError(t, writeFile(doc, "A perfectly healthy document."))
	_, err := execute(t, "index", doc)
	require.NoError(t, err)

	out, err := execute(t, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "synced")
}

func TestDoctorUnknownCollection(t *testing.T) {
	useTempData(t)

	_, err := execute(t, "doctor", "--collection", "ghost")
	require.Error(t, err)
}

func TestIndexReportsUnsupportedFile(t *testing.T) {
	dataDir := useTempData(t)

	doc := filepath.Join(dataDir, "report.pdf")
	require.NoError(t, writeFile(doc, "%PDF"))

	out, err := execute(t, "index", doc)
	require.Error(t, err)
	assert.True(t, strings.Contains(out, "failed") || out == "")
}

func TestDeleteDocumentCommand(t *testing.T) {
	dataDir := useTempData(t)

	doc := filepath.Join(dataDir, "notes.txt")
	require.NoError(t, writeFile(doc, "Delete me when done."))
	out, err := execute(t, "index", doc, "--json")
	require.NoError(t, err)

	// Pull the document id out of the JSON report.
	id := extractJSONField(t, out, "document_id")
	out, err = execute(t, "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "documents: 0")
}
