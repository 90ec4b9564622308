package git_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/autorebase/internal/git"
	"github.com/joescharf/autorebase/internal/git/gittest"
)

func TestRealClient_CurrentBranchAndRefs(t *testing.T) {
	r := gittest.Init(t)
	r.Commit("init", map[string]string{"a.txt": "a\n"})
	c := git.NewClient(r.Dir, 0)
	ctx := context.Background()

	branch, err := c.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	ok, err := c.RefExists(ctx, "refs/heads/main")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.RefExists(ctx, "refs/heads/nope")
	require.NoError(t, err)
	assert.False(t, ok)

	hasOrigin, err := c.HasRemote(ctx, "origin")
	require.NoError(t, err)
	assert.False(t, hasOrigin)
}

func TestRealClient_StatusAndStaged(t *testing.T) {
	r := gittest.Init(t)
	r.Commit("init", map[string]string{"a.txt": "a\n"})
	c := git.NewClient(r.Dir, 0)
	ctx := context.Background()

	lines, err := c.StatusPorcelain(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)

	r.Write("a.txt", "changed\n")
	lines, err = c.StatusPorcelain(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "a.txt", git.ParsePorcelainPath(lines[0]))

	staged, err := c.HasStagedChanges(ctx)
	require.NoError(t, err)
	assert.False(t, staged)

	require.NoError(t, c.Add(ctx, "a.txt"))
	staged, err = c.HasStagedChanges(ctx)
	require.NoError(t, err)
	assert.True(t, staged)
}

func TestRealClient_RebaseConflict(t *testing.T) {
	r := gittest.Init(t)
	r.Diverge(
		map[string]string{"notes.md": "one\n"},
		map[string]string{"notes.md": "feature\n"},
		map[string]string{"notes.md": "upstream\n"},
	)
	c := git.NewClient(r.Dir, 0)
	ctx := context.Background()

	count, err := c.RevListCount(ctx, "main", "feature")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = c.Rebase(ctx, "main")
	require.Error(t, err)
	var cmdErr *git.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.NotZero(t, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Error(), "git rebase main")

	inProgress, err := c.RebaseInProgress(ctx)
	require.NoError(t, err)
	assert.True(t, inProgress)

	files, err := c.ConflictedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.md"}, files)

	current, err := c.Show(ctx, "HEAD", "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "upstream\n", string(current))

	incoming, err := c.Show(ctx, "REBASE_HEAD", "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "feature\n", string(incoming))

	require.NoError(t, c.Checkout(ctx, git.Theirs, "notes.md"))
	require.NoError(t, c.Add(ctx, "notes.md"))
	assert.Equal(t, "feature\n", r.Read("notes.md"))

	require.NoError(t, c.RebaseContinue(ctx))
	inProgress, err = c.RebaseInProgress(ctx)
	require.NoError(t, err)
	assert.False(t, inProgress)
}

func TestRealClient_RebaseAbort(t *testing.T) {
	r := gittest.Init(t)
	r.Diverge(
		map[string]string{"a.txt": "one\n"},
		map[string]string{"a.txt": "two\n"},
		map[string]string{"a.txt": "three\n"},
	)
	c := git.NewClient(r.Dir, 0)
	ctx := context.Background()

	require.Error(t, c.Rebase(ctx, "main"))
	require.NoError(t, c.RebaseAbort(ctx))
	assert.Equal(t, "two\n", r.Read("a.txt"))

	branch, err := c.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "feature", branch)
}

func TestRealClient_CreateBranch(t *testing.T) {
	r := gittest.Init(t)
	r.Commit("init", nil)
	c := git.NewClient(r.Dir, 0)
	ctx := context.Background()

	require.NoError(t, c.CreateBranch(ctx, "main_backup_1", "main"))
	ok, err := c.RefExists(ctx, "refs/heads/main_backup_1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Creating it twice fails.
	assert.Error(t, c.CreateBranch(ctx, "main_backup_1", "main"))
}

func TestParsePorcelainPath(t *testing.T) {
	assert.Equal(t, "a.txt", git.ParsePorcelainPath(" M a.txt"))
	assert.Equal(t, "dir/b.go", git.ParsePorcelainPath("?? dir/b.go"))
	assert.Equal(t, "new.txt", git.ParsePorcelainPath("R  old.txt -> new.txt"))
	assert.Equal(t, "with space.txt", git.ParsePorcelainPath(`?? "with space.txt"`))
}

func TestCommandError_Message(t *testing.T) {
	err := &git.CommandError{Args: []string{"push", "origin", "x"}, Stderr: "rejected\n", ExitCode: 1}
	assert.Equal(t, "git push origin x: exit 1: rejected", err.Error())
}

func TestRealClient_CancelledContextFinishesCommand(t *testing.T) {
	r := gittest.Init(t)
	r.Commit("init", map[string]string{"a.txt": "a\n"})
	r.Git("checkout", "-b", "feature")
	r.Commit("feature", map[string]string{"b.txt": "b\n"})
	r.Git("checkout", "main")
	r.Commit("upstream", map[string]string{"c.txt": "c\n"})
	r.Git("checkout", "feature")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := git.NewClient(r.Dir, 0)
	require.NoError(t, c.Rebase(ctx, "main"))
	assert.Equal(t, "c\n", r.Read("c.txt"))
	assert.NoFileExists(t, filepath.Join(r.Dir, ".git", "index.lock"))

	inProgress, err := c.RebaseInProgress(context.Background())
	require.NoError(t, err)
	assert.False(t, inProgress)
}

func TestRealClient_TimeoutStopsCommand(t *testing.T) {
	r := gittest.Init(t)
	c := git.NewClient(r.Dir, time.Nanosecond)

	_, err := c.Run(context.Background(), "status")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
