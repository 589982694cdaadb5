// Package config loads and validates docdex configuration.
//
// Precedence (lowest to highest):
//  1. Built-in defaults
//  2. Config file (~/.config/docdex/config.yaml or --config)
//  3. Environment variables (DOCDEX_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// CurrentConfigVersion is the config schema version.
const CurrentConfigVersion = 1

// Config is the complete docdex configuration.
type Config struct {
	Version   int             `yaml:"version"`
	DataDir   string          `yaml:"data_dir"`
	Logging   LoggingConfig   `yaml:"logging"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	AI        AIConfig        `yaml:"ai"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ChunkingConfig configures the chunkers.
type ChunkingConfig struct {
	// Size is the target chunk size in characters for plain text.
	Size int `yaml:"size"`
	// Overlap is the character overlap between adjacent text chunks.
	// Must be strictly less than Size.
	Overlap int `yaml:"overlap"`
	// CodeSize is the target chunk size for source code (larger for context).
	CodeSize int `yaml:"code_size"`
	// CodeOverlap is the line-based overlap for split code symbols.
	CodeOverlap int `yaml:"code_overlap"`
	// RowsPerChunk groups N tabular rows per chunk; 1 means row-level chunks.
	RowsPerChunk int `yaml:"rows_per_chunk"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	// Backend is "openai" or "static".
	Backend string `yaml:"backend"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions is the fixed embedding dimension; must match the index.
	Dimensions int `yaml:"dimensions"`
	// BatchSize caps texts per embedding request.
	BatchSize int `yaml:"batch_size"`
	// CacheSize is the LRU query-embedding cache capacity.
	CacheSize int `yaml:"cache_size"`
}

// SearchConfig configures query behavior.
type SearchConfig struct {
	// TopK is the default number of results.
	TopK int `yaml:"top_k"`
	// OverfetchFactor multiplies TopK when a reranker will reorder results.
	OverfetchFactor int `yaml:"overfetch_factor"`
	// OverfetchCap bounds the over-fetched candidate count.
	OverfetchCap int `yaml:"overfetch_cap"`
}

// AIConfig configures optional LLM-backed rerank/synthesis.
type AIConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Model          string `yaml:"model"`
	SynthesisModel string `yaml:"synthesis_model"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		DataDir: defaultDataDir(),
		Logging: LoggingConfig{
			Level: "info",
		},
		Chunking: ChunkingConfig{
			Size:         600,
			Overlap:      100,
			CodeSize:     1500,
			CodeOverlap:  10,
			RowsPerChunk: 1,
		},
		Embedding: EmbeddingConfig{
			Backend:    "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			BatchSize:  100,
			CacheSize:  1000,
		},
		Search: SearchConfig{
			TopK:            10,
			OverfetchFactor: 5,
			OverfetchCap:    50,
		},
		AI: AIConfig{
			Enabled:        false,
			Model:          "gpt-4o-mini",
			SynthesisModel: "gpt-4o",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docdex")
	}
	return filepath.Join(home, ".docdex")
}

// DefaultConfigPath returns the user config file location.
func DefaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "docdex", "config.yaml")
	}
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Load reads configuration from path (empty means the default location),
// applies environment overrides, and validates the result.
// A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, dexerrors.New(dexerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("parse %s: %v", path, err), err)
		}
	} else if !os.IsNotExist(err) {
		return nil, dexerrors.New(dexerrors.ErrCodeConfigNotFound,
			fmt.Sprintf("read %s: %v", path, err), err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies DOCDEX_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOCDEX_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DOCDEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DOCDEX_EMBEDDING_BACKEND"); v != "" {
		cfg.Embedding.Backend = v
	}
	if v := os.Getenv("DOCDEX_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("DOCDEX_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("DOCDEX_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.Size = n
		}
	}
	if v := os.Getenv("DOCDEX_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.Overlap = n
		}
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return dexerrors.New(dexerrors.ErrCodeChunkerConfig,
			"chunk size must be positive", nil)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return dexerrors.New(dexerrors.ErrCodeChunkerConfig,
			fmt.Sprintf("chunk overlap %d must be non-negative and less than chunk size %d",
				c.Chunking.Overlap, c.Chunking.Size), nil)
	}
	if c.Embedding.Dimensions <= 0 {
		return dexerrors.New(dexerrors.ErrCodeConfigInvalid,
			"embedding dimensions must be positive", nil)
	}
	switch c.Embedding.Backend {
	case "openai", "static":
	default:
		return dexerrors.New(dexerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embedding backend %q (want openai or static)", c.Embedding.Backend), nil)
	}
	if c.Search.TopK <= 0 {
		return dexerrors.New(dexerrors.ErrCodeConfigInvalid,
			"search top_k must be positive", nil)
	}
	return nil
}

// CollectionsDir returns the directory containing all collections.
func (c *Config) CollectionsDir() string {
	return filepath.Join(c.DataDir, "collections")
}

// CollectionDir returns the on-disk directory for a collection's index.
func (c *Config) CollectionDir(collectionID string) string {
	return filepath.Join(c.DataDir, "collections", collectionID)
}

// DocumentsDir returns the directory holding a collection's source documents.
func (c *Config) DocumentsDir(collectionID string) string {
	return filepath.Join(c.DataDir, "collections", collectionID, "documents")
}

// AppDBPath returns the path of the application database (jobs, bookkeeping).
func (c *Config) AppDBPath() string {
	return filepath.Join(c.DataDir, "app.db")
}

// Save writes the config as YAML to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
