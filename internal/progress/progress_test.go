package progress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/autorebase/internal/git"
	"github.com/joescharf/autorebase/internal/git/gittest"
	"github.com/joescharf/autorebase/internal/models"
)

type recordingLog struct{ lines []string }

func (l *recordingLog) VerboseLog(format string, a ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, a...))
}

func TestCountTodo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "git-rebase-todo")
	todo := "pick abc one\n# comment\n\nfixup def two\nexec make\nreword 123 three\n"
	require.NoError(t, os.WriteFile(path, []byte(todo), 0o644))

	n, err := CountTodo(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestUpdate_BeforeRebase(t *testing.T) {
	r := gittest.Init(t)
	r.Commit("base", map[string]string{"a.txt": "a\n"})
	r.Git("checkout", "-b", "feature")
	r.Commit("f1", map[string]string{"b.txt": "b\n"})
	r.Commit("f2", map[string]string{"c.txt": "c\n"})

	sess := models.NewSession("id", "main", models.RunConfig{Mode: models.ModeSmart})
	sess.SourceBranch = "feature"
	sess.Phase = models.PhaseRebaseStart

	tr := NewTracker(git.NewClient(r.Dir, 0), nil)
	require.NoError(t, tr.Update(context.Background(), sess))
	assert.Equal(t, 2, sess.TotalCommits)
	assert.Equal(t, 0, sess.ProcessedCommits)
	assert.Equal(t, 0, sess.ProgressPercent)

	sess.Phase = models.PhaseComplete
	require.NoError(t, tr.Update(context.Background(), sess))
	assert.Equal(t, 2, sess.ProcessedCommits)
	assert.Equal(t, 100, sess.ProgressPercent)
}

func TestUpdate_MidRebase(t *testing.T) {
	r := gittest.Init(t)
	r.Commit("base", map[string]string{"a.txt": "a\n"})
	r.Git("checkout", "-b", "feature")
	r.Commit("f1", map[string]string{"a.txt": "feature\n"})
	r.Commit("f2", map[string]string{"b.txt": "b\n"})
	r.Git("checkout", "main")
	r.Commit("up", map[string]string{"a.txt": "upstream\n"})
	r.Git("checkout", "feature")
	_, err := r.TryGit("rebase", "main")
	require.Error(t, err)

	sess := models.NewSession("id", "main", models.RunConfig{Mode: models.ModeSmart})
	sess.SourceBranch = "feature"
	sess.Phase = models.PhaseConflictResolution

	tr := NewTracker(git.NewClient(r.Dir, 0), nil)
	require.NoError(t, tr.Update(context.Background(), sess))
	assert.Equal(t, 2, sess.TotalCommits)
	assert.Equal(t, 1, sess.ProcessedCommits)
	assert.Equal(t, 50, sess.ProgressPercent)
}

func TestUpdate_SwallowsErrors(t *testing.T) {
	r := gittest.Init(t)
	r.Commit("base", nil)

	sess := models.NewSession("id", "missing-branch", models.RunConfig{Mode: models.ModeSmart})
	sess.SourceBranch = "main"
	sess.SetProgress(4, 2)

	log := &recordingLog{}
	tr := NewTracker(git.NewClient(r.Dir, 0), log)
	assert.NoError(t, tr.Update(context.Background(), sess))
	assert.Equal(t, 4, sess.TotalCommits, "previous counters kept")
	require.Len(t, log.lines, 1)
	assert.Contains(t, log.lines[0], "progress unavailable")
}
