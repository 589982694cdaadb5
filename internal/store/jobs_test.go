package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

func newTestJobStore(t *testing.T) *JobStore {
	t.Helper()
	s, err := NewJobStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job, err := s.Create(ctx, JobTypeReindex, "default", `{"chunk_size":600}`)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobPending, job.Status)
	assert.True(t, job.Active())

	require.NoError(t, s.MarkRunning(ctx, job.ID, 10))
	require.NoError(t, s.UpdateProgress(ctx, job.ID, 4, "notes/design.md"))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobRunning, got.Status)
	assert.Equal(t, 10, got.Total)
	assert.Equal(t, 4, got.Processed)
	assert.Equal(t, "notes/design.md", got.CurrentItem)
	assert.InDelta(t, 0.4, got.Progress(), 1e-9)

	require.NoError(t, s.Complete(ctx, job.ID))

	got, err = s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, got.Status)
	assert.False(t, got.Active())
	assert.False(t, got.CompletedAt.IsZero())
	assert.Empty(t, got.CurrentItem)
}

func TestJobFailureKeepsError(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job, err := s.Create(ctx, JobTypeReindex, "default", "")
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, job.ID, "embedding provider unavailable"))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, "embedding provider unavailable", got.Error)
}

func TestActiveJob(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	active, err := s.ActiveJob(ctx, JobTypeReindex)
	require.NoError(t, err)
	assert.Nil(t, active)

	job, err := s.Create(ctx, JobTypeReindex, "default", "")
	require.NoError(t, err)

	active, err = s.ActiveJob(ctx, JobTypeReindex)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.ID, active.ID)

	require.NoError(t, s.Cancel(ctx, job.ID))

	active, err = s.ActiveJob(ctx, JobTypeReindex)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCreateRefusesSecondActiveJob(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, JobTypeReindex, "default", "")
	require.NoError(t, err)

	// The store itself enforces the single-active-job rule, so a racing
	// creator that skipped the ActiveJob check still gets a conflict.
	_, err = s.Create(ctx, JobTypeReindex, "other", "")
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeReindexActive, dexerrors.GetCode(err))
	assert.Contains(t, err.Error(), first.ID)

	// Running keeps the slot held; a terminal state frees it.
	require.NoError(t, s.MarkRunning(ctx, first.ID, 1))
	_, err = s.Create(ctx, JobTypeReindex, "default", "")
	require.Error(t, err)

	require.NoError(t, s.Complete(ctx, first.ID))
	_, err = s.Create(ctx, JobTypeReindex, "default", "")
	require.NoError(t, err)
}

func TestJobNotFound(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeJobNotFound, dexerrors.GetCode(err))

	err = s.UpdateProgress(ctx, "missing", 1, "x")
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeJobNotFound, dexerrors.GetCode(err))
}

func TestJobStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	ctx := context.Background()

	s, err := NewJobStore(path)
	require.NoError(t, err)
	job, err := s.Create(ctx, JobTypeReindex, "default", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := NewJobStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobPending, got.Status)

	jobs, err := s2.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}
