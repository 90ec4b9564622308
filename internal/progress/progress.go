package progress

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joescharf/autorebase/internal/git"
	"github.com/joescharf/autorebase/internal/models"
)

// Logger receives best-effort failures.
type Logger interface {
	VerboseLog(format string, a ...any)
}

// Tracker derives commit progress from git state.
type Tracker struct {
	git git.Client
	log Logger
}

// NewTracker returns a Tracker. log may be nil.
func NewTracker(gc git.Client, log Logger) *Tracker {
	return &Tracker{git: gc, log: log}
}

// Update refreshes the session's commit counters. It never fails the caller:
// errors are logged and the previous counters are kept.
func (t *Tracker) Update(ctx context.Context, sess *models.Session) error {
	if err := t.update(ctx, sess); err != nil && t.log != nil {
		t.log.VerboseLog("progress unavailable: %v", err)
	}
	return nil
}

func (t *Tracker) update(ctx context.Context, sess *models.Session) error {
	if sess.SourceBranch == "" || sess.TargetBranch == "" {
		return nil
	}
	total, err := t.git.RevListCount(ctx, sess.TargetBranch, sess.SourceBranch)
	if err != nil {
		return err
	}

	inProgress, err := t.git.RebaseInProgress(ctx)
	if err != nil {
		return err
	}
	if !inProgress {
		processed := 0
		if sess.Phase == models.PhasePush || sess.Phase == models.PhaseCleanup || sess.Phase == models.PhaseComplete {
			processed = total
		}
		sess.SetProgress(total, processed)
		return nil
	}

	remaining, err := t.remaining(ctx)
	if err != nil {
		return err
	}
	sess.SetProgress(total, total-remaining)
	return nil
}

// remaining counts commits git has not replayed yet.
func (t *Tracker) remaining(ctx context.Context) (int, error) {
	mergeDir, err := t.git.GitPath(ctx, "rebase-merge")
	if err != nil {
		return 0, err
	}
	if n, err := CountTodo(filepath.Join(mergeDir, "git-rebase-todo")); err == nil {
		return n, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}

	applyDir, err := t.git.GitPath(ctx, "rebase-apply")
	if err != nil {
		return 0, err
	}
	next, err := readInt(filepath.Join(applyDir, "next"))
	if err != nil {
		return 0, err
	}
	last, err := readInt(filepath.Join(applyDir, "last"))
	if err != nil {
		return 0, err
	}
	return max(0, last-next), nil
}

var pickCommands = map[string]bool{
	"pick": true, "p": true, "reword": true, "r": true, "edit": true, "e": true,
	"squash": true, "s": true, "fixup": true, "f": true,
}

// CountTodo counts the commit-replaying lines of a rebase todo list.
func CountTodo(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if pickCommands[fields[0]] {
			n++
		}
	}
	return n, sc.Err()
}

func readInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return n, nil
}
