package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillstack/docdex/internal/config"
	"github.com/quillstack/docdex/internal/embed"
	dexerrors "github.com/quillstack/docdex/internal/errors"
	"github.com/quillstack/docdex/internal/store"
)

type reindexFixture struct {
	cfg       *config.Config
	coord     *Coordinator
	jobs      *store.JobStore
	reindexer *Reindexer
	docsDir   string
}

func newReindexFixture(t *testing.T) *reindexFixture {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Embedding.Backend = "static"
	cfg.Embedding.Dimensions = embed.StaticDimensions

	engine, err := Open(cfg.CollectionDir(DefaultCollection), cfg.Embedding.Dimensions)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	docsDir := cfg.DocumentsDir(DefaultCollection)
	coord, err := NewCoordinator(engine, embed.NewStaticEmbedder(cfg.Embedding.Dimensions), nil, cfg, docsDir)
	require.NoError(t, err)

	jobs, err := store.NewJobStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobs.Close() })
	return &reindexFixture{
		cfg:       cfg,
		coord:     coord,
		jobs:      jobs,
		reindexer: NewReindexer(jobs, coord, DefaultCollection, docsDir),
		docsDir:   docsDir,
	}
}

func TestReindexRebuildsCollection(t *testing.T) {
	f := newReindexFixture(t)
	ctx := context.Background()

	writeTestFile(t, mkDocsDir(t, f), "a.txt", "Alpha document about tuning engines.")
	writeTestFile(t, f.docsDir, "b.txt", "Beta document about sailing knots.")
	writeTestFile(t, f.docsDir, "skip.bin", "not indexable")

	job, err := f.reindexer.Start(ctx, f.cfg)
	require.NoError(t, err)
	assert.Equal(t, store.JobPending, job.Status)
	assert.Contains(t, job.ConfigSnapshot, "chunk_size")

	final, err := f.reindexer.Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, final.Status)
	assert.Equal(t, 2, final.Total)
	assert.Equal(t, 2, final.Processed)
	assert.False(t, final.CompletedAt.IsZero())

	stats, err := f.coord.Engine().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, stats.MetadataChunks, stats.IndexVectors)
}

func TestReindexReplacesStaleContent(t *testing.T) {
	f := newReindexFixture(t)
	ctx := context.Background()

	// Index a document that will no longer exist on disk at reindex time.
	stale := writeTestFile(t, mkDocsDir(t, f), "old.txt", "Stale content to be dropped.")
	_, err := f.coord.IndexDocument(ctx, stale)
	require.NoError(t, err)
	require.NoError(t, os.Remove(stale))

	writeTestFile(t, f.docsDir, "new.txt", "Fresh content that replaces it.")

	job, err := f.reindexer.Start(ctx, f.cfg)
	require.NoError(t, err)
	final, err := f.reindexer.Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, final.Status)

	stats, err := f.coord.Engine().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
}

func TestReindexSurvivesNormalIndexing(t *testing.T) {
	f := newReindexFixture(t)
	ctx := context.Background()

	// Index a file living outside the documents directory, the way the
	// CLI does. Its source copy must reach the documents directory so a
	// reindex rebuilds rather than erases it.
	outside := writeTestFile(t, t.TempDir(), "notes.txt", "Content indexed from an arbitrary path.")
	_, err := f.coord.IndexDocument(ctx, outside)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.docsDir, "notes.txt"))

	job, err := f.reindexer.Start(ctx, f.cfg)
	require.NoError(t, err)
	final, err := f.reindexer.Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, final.Status)
	assert.Equal(t, 1, final.Total)

	stats, err := f.coord.Engine().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
}

func TestReindexRefusesToClearWithoutSources(t *testing.T) {
	f := newReindexFixture(t)
	ctx := context.Background()

	outside := writeTestFile(t, t.TempDir(), "notes.txt", "The only indexed document.")
	_, err := f.coord.IndexDocument(ctx, outside)
	require.NoError(t, err)

	// Lose every source copy. Reindex has nothing to rebuild from and
	// must fail instead of clearing the collection.
	require.NoError(t, os.Remove(filepath.Join(f.docsDir, "notes.txt")))

	job, err := f.reindexer.Start(ctx, f.cfg)
	require.NoError(t, err)
	final, err := f.reindexer.Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, final.Status)
	assert.Contains(t, final.Error, "refusing to clear")

	stats, err := f.coord.Engine().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents, "the collection must remain untouched")
}

func TestReindexConflictNamesActiveJob(t *testing.T) {
	f := newReindexFixture(t)
	ctx := context.Background()

	mkDocsDir(t, f)
	first, err := f.reindexer.Start(ctx, f.cfg)
	require.NoError(t, err)

	_, err = f.reindexer.Start(ctx, f.cfg)
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeReindexActive, dexerrors.GetCode(err))
	assert.Contains(t, err.Error(), first.ID)

	// Finishing the first job frees the slot.
	require.NoError(t, f.jobs.Cancel(ctx, first.ID))
	_, err = f.reindexer.Start(ctx, f.cfg)
	require.NoError(t, err)
}

func TestReindexCancellation(t *testing.T) {
	f := newReindexFixture(t)

	writeTestFile(t, mkDocsDir(t, f), "a.txt", "Document one.")
	writeTestFile(t, f.docsDir, "b.txt", "Document two.")

	job, err := f.reindexer.Start(context.Background(), f.cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	final, err := f.reindexer.Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, store.JobCancelled, final.Status)
}

func TestReindexFailsWhenEverythingFails(t *testing.T) {
	f := newReindexFixture(t)
	ctx := context.Background()

	// An empty file is a supported extension that still fails to index.
	writeTestFile(t, mkDocsDir(t, f), "empty.txt", "")

	job, err := f.reindexer.Start(ctx, f.cfg)
	require.NoError(t, err)
	final, err := f.reindexer.Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, final.Status)
	assert.NotEmpty(t, final.Error)
}

func mkDocsDir(t *testing.T, f *reindexFixture) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(f.docsDir, 0o755))
	return f.docsDir
}
