package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"

	"github.com/joescharf/autorebase/internal/models"
	"github.com/joescharf/autorebase/internal/output"
	"github.com/joescharf/autorebase/internal/rebase"
	"github.com/joescharf/autorebase/internal/state"
)

func statusRun(ctx context.Context, root string) error {
	o, err := newOrchestrator(root)
	if err != nil {
		return err
	}
	sess, err := o.Status()
	switch {
	case errors.Is(err, rebase.ErrNoSession):
		ui.Info("No rebase session in %s", root)
		return nil
	case err != nil:
		return err
	}
	printSession(sess)

	if watchFlag {
		return watchProgress(ctx, state.NewStore(root))
	}
	return nil
}

func printSession(sess *models.Session) {
	fmt.Fprintf(ui.Out, "Session:   %s\n", sess.SessionID)
	fmt.Fprintf(ui.Out, "Branches:  %s -> %s\n", output.Cyan(sess.SourceBranch), output.Cyan(sess.TargetBranch))
	fmt.Fprintf(ui.Out, "Phase:     %s (%s)\n", output.PhaseColor(string(sess.Phase)), sess.Step)
	fmt.Fprintf(ui.Out, "Progress:  %s (%d/%d commits)\n", output.ProgressColor(sess.ProgressPercent), sess.ProcessedCommits, sess.TotalCommits)
	fmt.Fprintf(ui.Out, "Mode:      %s\n", sess.Config.Mode)
	if sess.BackupBranch != "" {
		fmt.Fprintf(ui.Out, "Backup:    %s\n", sess.BackupBranch)
	}
	fmt.Fprintf(ui.Out, "Updated:   %s\n", sess.UpdatedAt.Local().Format("2006-01-02 15:04:05"))

	if len(sess.Conflicts) > 0 {
		fmt.Fprintf(ui.Out, "\nConflicts (%d/%d resolved):\n", sess.ResolvedConflictCount, len(sess.Conflicts))
		table := ui.Table([]string{"Attempt", "File", "Strategy", "Resolved", "Detail"})
		for _, c := range sess.Conflicts {
			detail := c.ResolutionMethod
			if c.ErrorMessage != "" {
				detail = output.Red(c.ErrorMessage)
			}
			_ = table.Append([]string{
				strconv.Itoa(c.Attempt),
				c.Path,
				string(c.Strategy),
				output.ResolvedColor(c.Resolved),
				detail,
			})
		}
		_ = table.Render()
	}

	for _, msg := range sess.ErrorMessages {
		ui.Error("%s", msg)
	}
}

// watchProgress prints each update of the progress file until the session
// finishes or ctx is cancelled.
func watchProgress(ctx context.Context, st *state.Store) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch progress: %w", err)
	}
	defer w.Close()
	if err := w.Add(st.Dir()); err != nil {
		return fmt.Errorf("watch %s: %w", st.Dir(), err)
	}

	ui.Info("Watching %s (Ctrl-C to stop)", st.Path(state.ProgressFile))
	var last string
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			ui.Warning("watch: %v", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != state.ProgressFile {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				if _, err := os.Stat(st.Path(state.ProgressFile)); errors.Is(err, os.ErrNotExist) {
					ui.Success("Session finished")
					return nil
				}
			}
			p, err := st.LoadProgress()
			if err != nil {
				continue
			}
			line := progressLine(p)
			if line != last {
				fmt.Fprintln(ui.Out, line)
				last = line
			}
		}
	}
}

func progressLine(p *state.Progress) string {
	return fmt.Sprintf("%s  %-20s %s  conflicts %d/%d  %s",
		p.Timestamp.Local().Format("15:04:05"),
		p.Phase,
		output.ProgressColor(p.ProgressPercent),
		p.ConflictsResolved,
		p.ConflictsTotal,
		p.Step,
	)
}
