package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/nixpkgs-review/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &models.ReviewRun{
		Mode:       "pr",
		PR:         1234,
		Commit:     "cafebabe",
		Systems:    []string{"x86_64-linux", "aarch64-linux"},
		Built:      10,
		Failed:     1,
		Broken:     2,
		Success:    false,
		ReportPath: "/cache/pr-1234",
		Duration:   90 * time.Second,
	}
	require.NoError(t, s.RecordRun(ctx, run))
	require.NotEmpty(t, run.ID)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Mode, got.Mode)
	assert.Equal(t, run.PR, got.PR)
	assert.Equal(t, run.Systems, got.Systems)
	assert.Equal(t, run.Built, got.Built)
	assert.Equal(t, run.Failed, got.Failed)
	assert.False(t, got.Success)
	assert.Equal(t, 90*time.Second, got.Duration)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &models.ReviewRun{Mode: "rev", Commit: "aaa", Success: true,
		CreatedAt: time.Now().Add(-time.Hour)}
	newer := &models.ReviewRun{Mode: "pr", PR: 2, Success: true,
		CreatedAt: time.Now()}
	require.NoError(t, s.RecordRun(ctx, older))
	require.NoError(t, s.RecordRun(ctx, newer))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Equal(t, older.ID, runs[1].ID)
}

func TestListRuns_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordRun(ctx, &models.ReviewRun{Mode: "wip"}))
	}
	runs, err := s.ListRuns(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}
