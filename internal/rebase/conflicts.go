package rebase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joescharf/autorebase/internal/models"
	"github.com/joescharf/autorebase/internal/output"
	"github.com/joescharf/autorebase/internal/resolve"
)

const resolvedExternally = "resolved externally"

// reconcile brings the current attempt's conflict list in line with git's
// unmerged paths and returns how many paths git reports. Entries that git no
// longer lists are marked resolved; new paths are classified and appended.
func (o *Orchestrator) reconcile(ctx context.Context) (int, error) {
	paths, err := o.git.ConflictedFiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list conflicted files: %w", err)
	}
	sess := o.sess
	if len(paths) > 0 && sess.RebaseAttempt == 0 {
		sess.RebaseAttempt = 1
	}

	unmerged := make(map[string]bool, len(paths))
	for _, p := range paths {
		unmerged[p] = true
	}
	for _, cf := range sess.UnresolvedConflicts() {
		if !unmerged[cf.Path] {
			cf.MarkResolved(resolvedExternally)
			o.ui.Info("%s was resolved outside autorebase", cf.Path)
		}
	}

	for _, p := range paths {
		if sess.FindConflict(p) != nil {
			continue
		}
		strategy := o.classify.Classify(p)
		if sess.Config.Mode == models.ModeInteractive && !sess.Config.NonInteractive {
			strategy = o.askStrategy(p, strategy)
		}
		sess.Conflicts = append(sess.Conflicts, models.ConflictFile{
			Path:     p,
			Strategy: strategy,
			Attempt:  sess.RebaseAttempt,
		})
		o.ui.VerboseLog("Classified %s as %s", p, strategy)
	}
	sess.RecountResolved()
	return len(paths), nil
}

var strategyAliases = map[string]models.Strategy{
	"incoming": models.StrategyPreferIncoming,
	"theirs":   models.StrategyPreferIncoming,
	"current":  models.StrategyPreferCurrent,
	"ours":     models.StrategyPreferCurrent,
	"smart":    models.StrategySmartMerge,
	"auto":     models.StrategyAutoResolve,
	"both":     models.StrategySaveBoth,
	"manual":   models.StrategyManualReview,
}

// ParseStrategy accepts a strategy name or one of its short aliases.
func ParseStrategy(s string) (models.Strategy, bool) {
	s = strings.TrimSpace(s)
	if st, ok := strategyAliases[strings.ToLower(s)]; ok {
		return st, true
	}
	st := models.Strategy(strings.ToUpper(s))
	return st, st.Valid()
}

// askStrategy lets the user confirm or override the classifier's choice.
// An empty or unreadable answer keeps the suggestion.
func (o *Orchestrator) askStrategy(path string, suggested models.Strategy) models.Strategy {
	for {
		answer, err := o.ui.Ask(fmt.Sprintf("Strategy for %s [%s] (incoming/current/smart/auto/both/manual):", path, suggested))
		if err != nil || answer == "" {
			return suggested
		}
		if st, ok := ParseStrategy(answer); ok {
			return st
		}
		o.ui.Warning("Unknown strategy %q", answer)
	}
}

// resolveConflicts applies each unresolved file's strategy. Failures are
// scoped to the file; the session stops for review when any file remains.
func (o *Orchestrator) resolveConflicts(ctx context.Context) (bool, error) {
	if _, err := o.reconcile(ctx); err != nil {
		return false, err
	}

	for _, cf := range o.sess.UnresolvedConflicts() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		o.resolveFile(ctx, cf, cf.Strategy, "")
	}

	if o.sess.Config.Mode == models.ModeSmart {
		for _, cf := range o.sess.UnresolvedConflicts() {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if cf.Strategy != models.StrategyManualReview || cf.ErrorMessage != "" || !o.wellFormed(cf.Path) {
				continue
			}
			o.resolveFile(ctx, cf, models.StrategySmartMerge, "smart pass: ")
		}
	}
	o.sess.RecountResolved()

	pending := o.sess.UnresolvedConflicts()
	if len(pending) == 0 {
		o.sess.Step = fmt.Sprintf("attempt %d resolved", o.sess.RebaseAttempt)
		o.sess.Phase = models.PhaseRebaseContinue
		return false, nil
	}

	for _, cf := range pending {
		o.sess.AddRecovery(fmt.Sprintf("Resolve `%s` by hand, then run `git add %s`.", cf.Path, cf.Path))
	}
	o.sess.AddRecovery("Run `autorebase --resume` once every listed file is staged.")
	o.sess.AddRecovery("Run `autorebase --abort` to give up and restore the source branch.")
	o.sess.Step = fmt.Sprintf("%d file(s) need manual resolution", len(pending))
	if err := o.writeRecovery(); err != nil {
		return false, err
	}

	o.ui.Warning("%d file(s) need manual resolution:", len(pending))
	for _, cf := range pending {
		reason := cf.ErrorMessage
		if reason == "" {
			reason = "manual review required"
		}
		fmt.Fprintf(o.ui.ErrOut, "  %s  %s\n", output.Yellow(cf.Path), reason)
	}
	return true, nil
}

// resolveFile backs the file up when strategy rewrites it, then resolves it.
func (o *Orchestrator) resolveFile(ctx context.Context, cf *models.ConflictFile, strategy models.Strategy, prefix string) {
	if strategy.RewritesContent() {
		if err := o.backups.CreateFileBackup(cf); err != nil {
			cf.ErrorMessage = fmt.Sprintf("backup failed: %v", err)
			o.ui.Warning("%s: %s", cf.Path, cf.ErrorMessage)
			return
		}
	}

	ok, method, err := o.resolver.Resolve(ctx, cf.Path, strategy)
	switch {
	case err != nil:
		cf.ErrorMessage = err.Error()
		o.ui.Warning("Could not resolve %s with %s: %v", cf.Path, strategy, err)
	case ok:
		cf.MarkResolved(prefix + method)
		o.ui.Success("Resolved %s (%s)", cf.Path, cf.ResolutionMethod)
		if strategy == models.StrategySaveBoth {
			cur, inc := resolve.SidecarPaths(cf.Path)
			o.sess.AddRecovery(fmt.Sprintf("Review `%s`: both sides were saved as `%s` and `%s`. Delete them once reviewed; untracked files block the next run.", cf.Path, cur, inc))
		}
	default:
		o.ui.VerboseLog("%s left for manual review", cf.Path)
	}
}

// wellFormed reports whether path holds parseable conflict markers.
func (o *Orchestrator) wellFormed(path string) bool {
	data, err := os.ReadFile(filepath.Join(o.root, path))
	if err != nil {
		return false
	}
	_, err = resolve.ParseBlocks(string(data))
	return err == nil
}
