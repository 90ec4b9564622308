package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/autorebase/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

func TestRecordAndListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sess := models.NewSession("S1", "main", models.RunConfig{ForcePush: true, Mode: models.ModeSmart})
	sess.SourceBranch = "feature"
	sess.BackupBranch = "feature_backup_1"
	sess.Phase = models.PhaseComplete
	sess.SetProgress(3, 3)
	sess.Conflicts = []models.ConflictFile{
		{Path: "a.md", Strategy: models.StrategyPreferIncoming, Resolved: true},
		{Path: "b.xyz", Strategy: models.StrategyManualReview, Resolved: true},
	}

	first := models.NewHistoryEntry(sess, "/repo/one")
	first.StartedAt = base
	first.FinishedAt = base.Add(time.Minute)
	require.NoError(t, s.RecordSession(ctx, first))
	assert.NotEmpty(t, first.ID)

	second := &models.HistoryEntry{
		SessionID: "S2", RepoPath: "/repo/two", SourceBranch: "x", TargetBranch: "main",
		Outcome: models.PhaseAborted, StartedAt: base, FinishedAt: base.Add(2 * time.Minute),
	}
	require.NoError(t, s.RecordSession(ctx, second))

	all, err := s.ListSessions(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "S2", all[0].SessionID, "newest first")

	one, err := s.ListSessions(ctx, "/repo/one", 10)
	require.NoError(t, err)
	require.Len(t, one, 1)
	got := one[0]
	assert.Equal(t, "feature", got.SourceBranch)
	assert.Equal(t, "feature_backup_1", got.BackupBranch)
	assert.Equal(t, models.PhaseComplete, got.Outcome)
	assert.Equal(t, 3, got.Commits)
	assert.Equal(t, 2, got.Conflicts)
	assert.Equal(t, 2, got.ResolvedConflicts)
	assert.True(t, got.ForcePush)
	assert.True(t, got.FinishedAt.Equal(base.Add(time.Minute)))

	limited, err := s.ListSessions(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
