package rebase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/autorebase/internal/backup"
	"github.com/joescharf/autorebase/internal/git"
	"github.com/joescharf/autorebase/internal/models"
	"github.com/joescharf/autorebase/internal/output"
	"github.com/joescharf/autorebase/internal/state"
)

// phaseFunc performs one phase and advances o.sess.Phase. stop means the
// session needs a human before it can go further.
type phaseFunc func(ctx context.Context) (stop bool, err error)

func (o *Orchestrator) handler(p models.Phase) phaseFunc {
	switch p {
	case models.PhaseInit:
		return o.initPhase
	case models.PhasePrerequisites:
		return o.prerequisites
	case models.PhaseBackup:
		return o.backupPhase
	case models.PhaseRebaseStart:
		return o.rebaseStart
	case models.PhaseRebaseInProgress:
		return o.rebaseInProgress
	case models.PhaseConflictResolution:
		return o.resolveConflicts
	case models.PhaseRebaseContinue:
		return o.rebaseContinue
	case models.PhasePush:
		return o.push
	case models.PhaseCleanup:
		return o.cleanupPhase
	}
	return nil
}

// persisted reports whether the session is saved once it reaches p. Nothing
// is written before the preconditions have passed.
func persisted(p models.Phase) bool {
	return p != models.PhaseInit && p != models.PhasePrerequisites
}

// drive runs phase handlers until the session completes, stops for
// conflicts, fails, or ctx is cancelled.
func (o *Orchestrator) drive(ctx context.Context) (Outcome, error) {
	for {
		phase := o.sess.Phase
		if phase == models.PhaseComplete {
			return o.complete()
		}
		if err := ctx.Err(); err != nil {
			return o.interrupted(phase, err)
		}

		run := o.handler(phase)
		if run == nil {
			return OutcomeFailed, fmt.Errorf("session %s cannot continue from phase %s", o.sess.SessionID, phase)
		}
		o.ui.VerboseLog("Phase %s", phase)

		stop, err := run(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return o.interrupted(phase, ctxErr)
			}
			return o.fail(phase, err)
		}
		if err := o.checkpoint(ctx); err != nil {
			return OutcomeFailed, err
		}
		if stop {
			return OutcomeConflicts, nil
		}
	}
}

// checkpoint refreshes progress and saves the session.
func (o *Orchestrator) checkpoint(ctx context.Context) error {
	if !persisted(o.sess.Phase) {
		return nil
	}
	if err := o.attachLog(); err != nil {
		return err
	}
	_ = o.progress.Update(ctx, o.sess)
	o.sess.RecountResolved()
	if err := o.state.Save(o.sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// fail records err against the session and keeps the phase so a resume
// retries it. Failures before anything was persisted leave no state.
func (o *Orchestrator) fail(phase models.Phase, err error) (Outcome, error) {
	o.sess.AddError(fmt.Sprintf("%s: %v", phase, err))
	o.ui.Error("%s failed: %v", phase, err)

	if !persisted(phase) {
		o.sess.Phase = models.PhaseFailed
		o.sess.Step = "precondition failed"
		return OutcomeFailed, err
	}

	o.sess.Step = "failed"
	o.sess.AddRecovery(fmt.Sprintf("Fix the problem reported for %s, then run `autorebase --resume` to retry it.", phase))
	o.sess.AddRecovery("Run `autorebase --abort` to give up and restore the source branch.")
	if werr := o.writeRecovery(); werr != nil {
		o.ui.Warning("Could not write recovery instructions: %v", werr)
	}
	if serr := o.checkpoint(context.Background()); serr != nil {
		return OutcomeFailed, errors.Join(fmt.Errorf("%s: %w", phase, err), serr)
	}
	o.ui.Info("Recovery instructions: %s", o.state.Path(state.RecoveryFile))
	return OutcomeFailed, fmt.Errorf("%s: %w", phase, err)
}

// interrupted saves the session as-is and reports the cancellation.
func (o *Orchestrator) interrupted(phase models.Phase, cause error) (Outcome, error) {
	o.ui.Warning("Interrupted during %s", phase)
	if persisted(phase) {
		o.sess.Step = "interrupted"
		o.sess.AddRecovery("Run `autorebase --resume` to continue the interrupted session.")
		if err := o.writeRecovery(); err != nil {
			o.ui.Warning("Could not write recovery instructions: %v", err)
		}
		if err := o.checkpoint(context.Background()); err != nil {
			o.ui.Warning("Could not save session: %v", err)
		}
	}
	return OutcomeFailed, fmt.Errorf("interrupted during %s: %w", phase, cause)
}

// complete clears the persisted session once it has finished.
func (o *Orchestrator) complete() (Outcome, error) {
	if err := o.state.Clear(); err != nil {
		return OutcomeFailed, err
	}
	o.ui.Success("Rebase of %s onto %s complete", o.sess.SourceBranch, o.sess.TargetBranch)
	return OutcomeSuccess, nil
}

func preconditionf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, a...))
}

func (o *Orchestrator) initPhase(ctx context.Context) (bool, error) {
	if _, err := o.git.RepoRoot(ctx); err != nil {
		return false, preconditionf("%s is not a git repository: %v", o.root, err)
	}
	if strings.TrimSpace(o.sess.TargetBranch) == "" {
		return false, preconditionf("no target branch given")
	}
	inProgress, err := o.git.RebaseInProgress(ctx)
	if err != nil {
		return false, err
	}
	if inProgress {
		return false, preconditionf("a git rebase is already in progress; finish it or run `git rebase --abort`")
	}
	branch, err := o.git.CurrentBranch(ctx)
	if err != nil {
		return false, err
	}
	if branch == "" {
		return false, preconditionf("HEAD is detached; check out the branch to rebase")
	}
	if branch == o.sess.TargetBranch {
		return false, preconditionf("cannot rebase %s onto itself", branch)
	}
	o.sess.SourceBranch = branch
	o.sess.Step = "source branch detected"
	o.sess.Phase = models.PhasePrerequisites
	return false, nil
}

func (o *Orchestrator) prerequisites(ctx context.Context) (bool, error) {
	cfg := o.sess.Config
	hasRemote, err := o.git.HasRemote(ctx, cfg.Remote)
	if err != nil {
		return false, err
	}
	if hasRemote {
		if cfg.DryRun {
			o.ui.DryRunMsg("Would fetch %s", cfg.Remote)
		} else if err := o.git.Fetch(ctx, cfg.Remote); err != nil {
			o.ui.Warning("Fetch %s failed, using local refs: %v", cfg.Remote, err)
		}
	} else if cfg.ForcePush {
		return false, preconditionf("--force needs remote %q, which is not configured", cfg.Remote)
	}

	found := false
	for _, ref := range []string{"refs/heads/" + o.sess.TargetBranch, "refs/remotes/" + o.sess.TargetBranch} {
		ok, err := o.git.RefExists(ctx, ref)
		if err != nil {
			return false, err
		}
		if ok {
			found = true
			break
		}
	}
	if !found {
		return false, preconditionf("target branch %q not found", o.sess.TargetBranch)
	}

	dirty, err := o.git.StatusPorcelain(ctx)
	if err != nil {
		return false, err
	}
	if len(dirty) > 0 {
		paths := make([]string, 0, len(dirty))
		for _, line := range dirty {
			paths = append(paths, git.ParsePorcelainPath(line))
		}
		return false, preconditionf("working tree has uncommitted changes: %s", strings.Join(paths, ", "))
	}

	o.sess.Step = "preconditions passed"
	o.sess.Phase = models.PhaseBackup
	return false, nil
}

func (o *Orchestrator) backupPhase(ctx context.Context) (bool, error) {
	if o.sess.BackupBranch != "" {
		ok, err := o.git.RefExists(ctx, "refs/heads/"+o.sess.BackupBranch)
		if err != nil {
			return false, err
		}
		if ok {
			o.ui.VerboseLog("Backup branch %s already exists", o.sess.BackupBranch)
			o.sess.Phase = models.PhaseRebaseStart
			return false, nil
		}
	}

	name, err := o.backups.CreateBranchBackup(ctx, o.sess.SourceBranch)
	if err != nil {
		return false, err
	}
	o.sess.BackupBranch = name
	o.sess.Step = "backup branch created"
	o.sess.Phase = models.PhaseRebaseStart
	o.ui.Success("Backed up %s to %s", o.sess.SourceBranch, output.Cyan(name))
	return false, nil
}

func (o *Orchestrator) rebaseStart(ctx context.Context) (bool, error) {
	inProgress, err := o.git.RebaseInProgress(ctx)
	if err != nil {
		return false, err
	}
	if inProgress {
		// Started before an interruption; pick up where git stopped.
		o.sess.Phase = models.PhaseRebaseInProgress
		return false, nil
	}

	o.ui.Info("Rebasing %s onto %s", o.sess.SourceBranch, o.sess.TargetBranch)
	if rerr := o.git.Rebase(ctx, o.sess.TargetBranch); rerr != nil {
		stopped, err := o.git.RebaseInProgress(ctx)
		if err != nil {
			return false, err
		}
		if !stopped {
			return false, rerr
		}
		o.ui.VerboseLog("Rebase stopped: %v", rerr)
	}
	o.sess.Step = "rebase started"
	o.sess.Phase = models.PhaseRebaseInProgress
	return false, nil
}

// rebaseInProgress inspects git and routes to conflict resolution,
// continuation or push.
func (o *Orchestrator) rebaseInProgress(ctx context.Context) (bool, error) {
	inProgress, err := o.git.RebaseInProgress(ctx)
	if err != nil {
		return false, err
	}
	if !inProgress {
		behind, err := o.git.RevListCount(ctx, o.sess.SourceBranch, o.sess.TargetBranch)
		if err != nil {
			return false, err
		}
		if behind > 0 {
			return false, fmt.Errorf("no rebase is in progress but %s is still %d commit(s) behind %s; it was likely aborted outside autorebase", o.sess.SourceBranch, behind, o.sess.TargetBranch)
		}
	}

	n, err := o.reconcile(ctx)
	if err != nil {
		return false, err
	}
	if !inProgress {
		o.sess.Step = "rebase finished"
		o.sess.Phase = models.PhasePush
		return false, nil
	}

	if n > 0 {
		o.sess.Step = fmt.Sprintf("%d conflicted file(s) in attempt %d", n, o.sess.RebaseAttempt)
		o.sess.Phase = models.PhaseConflictResolution
		return false, nil
	}
	o.sess.Step = "stopped without conflicts"
	o.sess.Phase = models.PhaseRebaseContinue
	return false, nil
}

func (o *Orchestrator) rebaseContinue(ctx context.Context) (bool, error) {
	inProgress, err := o.git.RebaseInProgress(ctx)
	if err != nil {
		return false, err
	}
	if !inProgress {
		o.sess.Phase = models.PhaseRebaseInProgress
		return false, nil
	}

	// Unmerged paths here belong to a newer stop that git reached before
	// the last checkpoint.
	if next, err := o.nextStop(ctx); err != nil || next {
		return false, err
	}

	staged, err := o.git.HasStagedChanges(ctx)
	if err != nil {
		return false, err
	}
	var gerr error
	if staged {
		o.ui.VerboseLog("git rebase --continue")
		gerr = o.git.RebaseContinue(ctx)
	} else {
		o.ui.Info("Replayed commit is empty after resolution; skipping it")
		gerr = o.git.RebaseSkip(ctx)
	}

	next, err := o.nextStop(ctx)
	if err != nil {
		return false, err
	}
	if gerr != nil && !next {
		return false, gerr
	}
	if !next {
		o.sess.Step = "continued"
		o.sess.Phase = models.PhaseRebaseInProgress
	}
	return false, nil
}

// nextStop starts a new attempt when git has stopped on new conflicts.
func (o *Orchestrator) nextStop(ctx context.Context) (bool, error) {
	paths, err := o.git.ConflictedFiles(ctx)
	if err != nil {
		return false, err
	}
	if len(paths) == 0 {
		return false, nil
	}
	o.sess.RebaseAttempt++
	o.sess.Step = fmt.Sprintf("stopped on new conflicts (attempt %d)", o.sess.RebaseAttempt)
	o.sess.Phase = models.PhaseRebaseInProgress
	return true, nil
}

func (o *Orchestrator) push(ctx context.Context) (bool, error) {
	cfg := o.sess.Config
	if !cfg.ForcePush {
		o.ui.Info("Skipping push (use --force to push with --force-with-lease)")
		o.sess.Step = "push skipped"
		o.sess.Phase = models.PhaseCleanup
		return false, nil
	}
	o.ui.Info("Pushing %s to %s with --force-with-lease", o.sess.SourceBranch, cfg.Remote)
	if err := o.git.Push(ctx, cfg.Remote, o.sess.SourceBranch, true); err != nil {
		return false, err
	}
	o.ui.Success("Pushed %s", o.sess.SourceBranch)
	o.sess.Step = "pushed"
	o.sess.Phase = models.PhaseCleanup
	return false, nil
}

func (o *Orchestrator) cleanupPhase(ctx context.Context) (bool, error) {
	o.sess.SetProgress(o.sess.TotalCommits, o.sess.TotalCommits)
	o.sess.RecountResolved()

	sidecars := o.sidecars()
	summary, err := renderSummary(o.sess, backup.DirName, sidecars)
	if err != nil {
		return false, err
	}
	if err := o.state.WriteSummary(summary); err != nil {
		return false, err
	}
	if len(sidecars) > 0 {
		o.ui.Warning("Review and delete %d saved conflict side(s) before the next rebase: %s", len(sidecars), strings.Join(sidecars, ", "))
	}

	o.record(ctx, models.PhaseComplete)

	o.sess.Step = "summary written"
	o.sess.Phase = models.PhaseComplete
	return false, nil
}

// dryRun checks the preconditions and reports what a real run would do.
func (o *Orchestrator) dryRun(ctx context.Context, target string) (Outcome, error) {
	if sess, err := o.load(); err != nil {
		return OutcomeFailed, err
	} else if sess != nil {
		o.ui.DryRunMsg("Would offer to resume session %s at %s", sess.SessionID, sess.Phase)
		return OutcomeSuccess, nil
	}

	if err := o.useSession(models.NewSession(models.NewID(), target, o.cfg)); err != nil {
		return OutcomeFailed, err
	}
	for _, p := range []models.Phase{models.PhaseInit, models.PhasePrerequisites} {
		if _, err := o.handler(p)(ctx); err != nil {
			return o.fail(p, err)
		}
	}

	commits, err := o.git.RevListCount(ctx, target, o.sess.SourceBranch)
	if err != nil {
		return OutcomeFailed, err
	}
	o.ui.DryRunMsg("Would create backup branch %s", backup.BranchBackupName(o.sess.SourceBranch, time.Now()))
	o.ui.DryRunMsg("Would rebase %d commit(s) of %s onto %s (mode %s)", commits, o.sess.SourceBranch, target, o.sess.Config.Mode)
	if o.sess.Config.ForcePush {
		o.ui.DryRunMsg("Would push %s to %s with --force-with-lease", o.sess.SourceBranch, o.sess.Config.Remote)
	}
	return OutcomeSuccess, nil
}
