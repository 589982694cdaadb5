package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/quillstack/docdex/internal/config"
	dexerrors "github.com/quillstack/docdex/internal/errors"
	"github.com/quillstack/docdex/internal/store"
)

// Reindexer rebuilds one collection from its source documents. At most
// one reindex job runs at a time across the whole installation; a
// second attempt is refused and told which job is in the way.
type Reindexer struct {
	jobs         *store.JobStore
	coord        *Coordinator
	collectionID string
	docsDir      string
}

// NewReindexer wires a reindexer for one collection.
func NewReindexer(jobs *store.JobStore, coord *Coordinator, collectionID, docsDir string) *Reindexer {
	return &Reindexer{jobs: jobs, coord: coord, collectionID: collectionID, docsDir: docsDir}
}

// Start refuses to start when another reindex is active, otherwise
// records a pending job and returns it. The caller decides whether to
// Run in the foreground or a goroutine.
func (r *Reindexer) Start(ctx context.Context, cfg *config.Config) (*store.Job, error) {
	active, err := r.jobs.ActiveJob(ctx, store.JobTypeReindex)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, dexerrors.Conflict(dexerrors.ErrCodeReindexActive,
			fmt.Sprintf("reindex job %s is already %s", active.ID, active.Status)).
			WithDetail("job_id", active.ID)
	}

	snapshot, err := json.Marshal(map[string]any{
		"chunk_size":      cfg.Chunking.Size,
		"chunk_overlap":   cfg.Chunking.Overlap,
		"embedding_model": cfg.Embedding.Model,
		"dimensions":      cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal config snapshot: %w", err)
	}

	return r.jobs.Create(ctx, store.JobTypeReindex, r.collectionID, string(snapshot))
}

// Run executes the job: clears the collection and re-ingests every
// supported file under the documents directory. Per-file failures are
// counted but do not stop the run; cancellation marks the job
// cancelled and leaves a partially rebuilt collection that diagnose
// can still explain. The terminal job state is always persisted.
func (r *Reindexer) Run(ctx context.Context, job *store.Job) (*store.Job, error) {
	// Job bookkeeping must outlive cancellation so the terminal state
	// always lands in the store.
	bk := context.WithoutCancel(ctx)

	paths, err := r.sourceFiles()
	if err != nil {
		_ = r.jobs.Fail(bk, job.ID, err.Error())
		return r.jobs.Get(bk, job.ID)
	}

	// An empty documents directory over a populated collection means
	// the sources are gone; clearing would destroy the only copy of
	// the index without rebuilding anything.
	if len(paths) == 0 {
		stats, err := r.coord.Engine().Stats(bk)
		if err != nil {
			_ = r.jobs.Fail(bk, job.ID, err.Error())
			return r.jobs.Get(bk, job.ID)
		}
		if stats.Documents > 0 {
			_ = r.jobs.Fail(bk, job.ID, fmt.Sprintf(
				"no source files under %s but the collection holds %d documents; refusing to clear it",
				r.docsDir, stats.Documents))
			return r.jobs.Get(bk, job.ID)
		}
	}

	if err := r.jobs.MarkRunning(bk, job.ID, len(paths)); err != nil {
		return nil, err
	}
	slog.Info("reindex_started", "job_id", job.ID, "collection", r.collectionID, "files", len(paths))

	if ctx.Err() == nil {
		if err := r.coord.Engine().Clear(ctx); err != nil {
			_ = r.jobs.Fail(bk, job.ID, fmt.Sprintf("clear collection: %v", err))
			return r.jobs.Get(bk, job.ID)
		}
	}

	var failed int
	for i, path := range paths {
		if ctx.Err() != nil {
			_ = r.jobs.Cancel(bk, job.ID)
			slog.Info("reindex_cancelled", "job_id", job.ID, "processed", i)
			return r.jobs.Get(bk, job.ID)
		}

		if err := r.jobs.UpdateProgress(bk, job.ID, i, filepath.Base(path)); err != nil {
			slog.Warn("reindex_progress_update_failed", "job_id", job.ID, "error", err)
		}
		if _, err := r.coord.IndexDocument(ctx, path); err != nil {
			failed++
			slog.Warn("reindex_file_failed", "job_id", job.ID, "file", path, "error", err)
		}
	}

	if err := r.jobs.UpdateProgress(bk, job.ID, len(paths), ""); err != nil {
		slog.Warn("reindex_progress_update_failed", "job_id", job.ID, "error", err)
	}

	if failed > 0 && failed == len(paths) {
		_ = r.jobs.Fail(bk, job.ID, fmt.Sprintf("all %d files failed to index", failed))
	} else {
		_ = r.jobs.Complete(bk, job.ID)
	}
	slog.Info("reindex_finished", "job_id", job.ID, "files", len(paths), "failed", failed)
	return r.jobs.Get(bk, job.ID)
}

// sourceFiles walks the documents directory and returns the supported
// files in stable order.
func (r *Reindexer) sourceFiles() ([]string, error) {
	registry := r.coord.extractor

	if _, err := os.Stat(r.docsDir); os.IsNotExist(err) {
		// Nothing was ever indexed into this collection.
		return nil, nil
	}

	var paths []string
	err := filepath.WalkDir(r.docsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !registry.Supported(d.Name()) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, dexerrors.New(dexerrors.ErrCodeFileNotFound,
			fmt.Sprintf("walk documents directory %s: %v", r.docsDir, err), err)
	}
	sort.Strings(paths)
	return paths, nil
}
