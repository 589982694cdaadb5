package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 600, cfg.Chunking.Size)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, 10, cfg.Search.TopK)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 600, cfg.Chunking.Size)
}

func TestLoadFromFile(t *testing.T) {
	// Given: a config file overriding chunk size
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
version: 1
chunking:
  size: 800
  overlap: 150
embedding:
  backend: static
  dimensions: 64
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// When: loading
	cfg, err := Load(path)
	require.NoError(t, err)

	// Then: file values applied, untouched fields keep defaults
	assert.Equal(t, 800, cfg.Chunking.Size)
	assert.Equal(t, 150, cfg.Chunking.Overlap)
	assert.Equal(t, "static", cfg.Embedding.Backend)
	assert.Equal(t, 64, cfg.Embedding.Dimensions)
	assert.Equal(t, 10, cfg.Search.TopK)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DOCDEX_DATA_DIR", "/tmp/docdex-test")
	t.Setenv("DOCDEX_CHUNK_SIZE", "500")
	t.Setenv("DOCDEX_EMBEDDING_BACKEND", "static")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/docdex-test", cfg.DataDir)
	assert.Equal(t, 500, cfg.Chunking.Size)
	assert.Equal(t, "static", cfg.Embedding.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantCode string
	}{
		{
			name:     "zero chunk size",
			mutate:   func(c *Config) { c.Chunking.Size = 0 },
			wantCode: dexerrors.ErrCodeChunkerConfig,
		},
		{
			name:     "overlap equals size",
			mutate:   func(c *Config) { c.Chunking.Overlap = c.Chunking.Size },
			wantCode: dexerrors.ErrCodeChunkerConfig,
		},
		{
			name:     "negative overlap",
			mutate:   func(c *Config) { c.Chunking.Overlap = -1 },
			wantCode: dexerrors.ErrCodeChunkerConfig,
		},
		{
			name:     "zero dimensions",
			mutate:   func(c *Config) { c.Embedding.Dimensions = 0 },
			wantCode: dexerrors.ErrCodeConfigInvalid,
		},
		{
			name:     "unknown backend",
			mutate:   func(c *Config) { c.Embedding.Backend = "ollama" },
			wantCode: dexerrors.ErrCodeConfigInvalid,
		},
		{
			name:     "zero top_k",
			mutate:   func(c *Config) { c.Search.TopK = 0 },
			wantCode: dexerrors.ErrCodeConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, dexerrors.GetCode(err))
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Chunking.Size = 750

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 750, loaded.Chunking.Size)
}

func TestCollectionPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "collections", "abc"), cfg.CollectionDir("abc"))
	assert.Equal(t, filepath.Join("/data", "collections", "abc", "documents"), cfg.DocumentsDir("abc"))
	assert.Equal(t, filepath.Join("/data", "app.db"), cfg.AppDBPath())
}
