package index

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/quillstack/docdex/internal/ai"
	"github.com/quillstack/docdex/internal/config"
	"github.com/quillstack/docdex/internal/embed"
	dexerrors "github.com/quillstack/docdex/internal/errors"
	"github.com/quillstack/docdex/internal/store"
)

// DefaultCollection is used when the caller names no collection.
const DefaultCollection = "default"

// Manager is the per-collection registry. Each collection gets its own
// directory, engine and coordinator, opened lazily and shared by every
// caller until Close.
type Manager struct {
	cfg      *config.Config
	embedder embed.Embedder
	ai       *ai.Service
	jobs     *store.JobStore

	mu   sync.Mutex
	open map[string]*Coordinator
}

// NewManager builds a manager. aiService may be nil.
func NewManager(cfg *config.Config, embedder embed.Embedder, aiService *ai.Service) (*Manager, error) {
	jobs, err := store.NewJobStore(cfg.AppDBPath())
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		embedder: embedder,
		ai:       aiService,
		jobs:     jobs,
		open:     make(map[string]*Coordinator),
	}, nil
}

// Jobs exposes the job store.
func (m *Manager) Jobs() *store.JobStore { return m.jobs }

// Embedder exposes the configured embedder, for repairs that need to
// re-embed outside the regular pipeline.
func (m *Manager) Embedder() embed.Embedder { return m.embedder }

// Collection returns the coordinator for a collection, opening it on
// first use.
func (m *Manager) Collection(id string) (*Coordinator, error) {
	if id == "" {
		id = DefaultCollection
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if coord, ok := m.open[id]; ok {
		return coord, nil
	}

	engine, err := Open(m.cfg.CollectionDir(id), m.cfg.Embedding.Dimensions)
	if err != nil {
		return nil, err
	}
	coord, err := NewCoordinator(engine, m.embedder, m.ai, m.cfg, m.cfg.DocumentsDir(id))
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	m.open[id] = coord
	slog.Debug("collection_opened", "collection", id)
	return coord, nil
}

// Reindexer returns a reindexer for a collection.
func (m *Manager) Reindexer(id string) (*Reindexer, error) {
	if id == "" {
		id = DefaultCollection
	}
	coord, err := m.Collection(id)
	if err != nil {
		return nil, err
	}
	return NewReindexer(m.jobs, coord, id, m.cfg.DocumentsDir(id)), nil
}

// Doctor returns a doctor for a collection. The collection must exist;
// diagnosing a collection that was never created is a user error.
func (m *Manager) Doctor(id string) (*Doctor, error) {
	if id == "" {
		id = DefaultCollection
	}
	dir := m.cfg.CollectionDir(id)
	if _, err := os.Stat(dir); err != nil {
		return nil, dexerrors.NotFound(dexerrors.ErrCodeCollectionNotFound, "collection", id)
	}
	return NewDoctor(dir), nil
}

// ListCollections returns the ids of collections present on disk.
func (m *Manager) ListCollections() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.CollectionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases every open collection and the job store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for id, coord := range m.open {
		if err := coord.Engine().Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.open, id)
	}
	if err := m.jobs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.embedder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Stats returns engine stats for a collection.
func (m *Manager) Stats(ctx context.Context, id string) (*Stats, error) {
	coord, err := m.Collection(id)
	if err != nil {
		return nil, err
	}
	return coord.Engine().Stats(ctx)
}
