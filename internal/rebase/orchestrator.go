package rebase

import (
	"context"
	"errors"
	"fmt"

	"github.com/joescharf/autorebase/internal/backup"
	"github.com/joescharf/autorebase/internal/classify"
	"github.com/joescharf/autorebase/internal/git"
	"github.com/joescharf/autorebase/internal/lock"
	"github.com/joescharf/autorebase/internal/models"
	"github.com/joescharf/autorebase/internal/output"
	"github.com/joescharf/autorebase/internal/progress"
	"github.com/joescharf/autorebase/internal/resolve"
	"github.com/joescharf/autorebase/internal/state"
	"github.com/joescharf/autorebase/internal/store"
)

// Outcome is the result of driving a session as far as it can go.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeConflicts Outcome = "CONFLICTS"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeAborted   Outcome = "ABORTED"
)

var (
	// ErrSessionExists means a persisted session blocks a fresh run.
	ErrSessionExists = errors.New("an unfinished rebase session exists")
	// ErrNoSession means there is nothing to resume.
	ErrNoSession = errors.New("no rebase session found")
	// ErrPrecondition means the repository is not ready for a rebase.
	ErrPrecondition = errors.New("precondition failed")
)

// Options configures an Orchestrator.
type Options struct {
	Git     git.Client
	Root    string
	Config  models.RunConfig
	UI      *output.UI
	History store.HistoryStore // optional
}

// Orchestrator drives one rebase session through its phases, saving the
// session after each one.
type Orchestrator struct {
	git      git.Client
	root     string
	cfg      models.RunConfig
	ui       *output.UI
	classify *classify.Classifier
	resolver *resolve.Resolver
	backups  *backup.Manager
	state    *state.Store
	progress *progress.Tracker
	history  store.HistoryStore
	lock     *lock.PIDFile

	sess *models.Session
}

// New returns an Orchestrator for the repository at opts.Root.
func New(opts Options) *Orchestrator {
	ui := opts.UI
	if ui == nil {
		ui = output.New()
	}
	cfg := opts.Config
	if cfg.Mode == "" {
		cfg.Mode = models.ModeSmart
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	st := state.NewStore(opts.Root)
	return &Orchestrator{
		git:      opts.Git,
		root:     opts.Root,
		cfg:      cfg,
		ui:       ui,
		resolver: resolve.New(opts.Git, opts.Root),
		backups:  backup.NewManager(opts.Git, opts.Root),
		state:    st,
		progress: progress.NewTracker(opts.Git, ui),
		history:  opts.History,
		lock:     lock.NewPIDFile(st.Path(state.LockFile)),
	}
}

// Session returns the session currently held in memory, if any.
func (o *Orchestrator) Session() *models.Session { return o.sess }

// Run rebases the current branch onto target. An existing session is
// resumed after confirmation, or refused when prompting is not allowed.
func (o *Orchestrator) Run(ctx context.Context, target string) (Outcome, error) {
	if o.cfg.DryRun {
		return o.dryRun(ctx, target)
	}

	release, err := o.acquire()
	if err != nil {
		return OutcomeFailed, err
	}
	defer release()

	existing, err := o.load()
	if err != nil {
		return OutcomeFailed, err
	}
	if existing != nil {
		desc := fmt.Sprintf("session %s (%s onto %s, phase %s)",
			existing.SessionID, existing.SourceBranch, existing.TargetBranch, existing.Phase)
		if o.cfg.NonInteractive || o.cfg.Mode == models.ModeAutomated {
			return OutcomeFailed, fmt.Errorf("%w: %s; use --resume, --abort or --cleanup", ErrSessionExists, desc)
		}
		ok, err := o.ui.Confirm("Found unfinished " + desc + ". Resume it?")
		if err != nil {
			return OutcomeFailed, err
		}
		if !ok {
			return OutcomeFailed, fmt.Errorf("%w: %s; use --abort or --cleanup to start over", ErrSessionExists, desc)
		}
		if target != "" && target != existing.TargetBranch {
			o.ui.Warning("Ignoring target %s; the session targets %s", target, existing.TargetBranch)
		}
		return o.resume(ctx, existing)
	}

	if err := o.useSession(models.NewSession(models.NewID(), target, o.cfg)); err != nil {
		return OutcomeFailed, err
	}
	defer o.detachLog()
	o.ui.Info("Starting rebase session %s onto %s", o.sess.SessionID, output.Cyan(target))
	return o.drive(ctx)
}

// Resume continues the persisted session from its saved phase using the
// configuration it was created with.
func (o *Orchestrator) Resume(ctx context.Context) (Outcome, error) {
	if o.sess != nil && o.sess.Phase == models.PhaseComplete {
		return OutcomeSuccess, nil
	}

	release, err := o.acquire()
	if err != nil {
		return OutcomeFailed, err
	}
	defer release()

	sess, err := o.load()
	if err != nil {
		return OutcomeFailed, err
	}
	if sess == nil {
		return OutcomeFailed, ErrNoSession
	}
	return o.resume(ctx, sess)
}

func (o *Orchestrator) resume(ctx context.Context, sess *models.Session) (Outcome, error) {
	if err := o.useSession(sess); err != nil {
		return OutcomeFailed, err
	}
	if sess.Phase == models.PhaseComplete {
		// Finished but not yet cleared; nothing left to do in git.
		return o.complete()
	}
	if sess.Phase.Terminal() {
		return OutcomeFailed, fmt.Errorf("session %s ended in %s; run --cleanup to discard it", sess.SessionID, sess.Phase)
	}

	o.ui.Verbose = sess.Config.Verbose
	if err := o.attachLog(); err != nil {
		return OutcomeFailed, err
	}
	defer o.detachLog()
	o.ui.Info("Resuming session %s at %s", sess.SessionID, output.PhaseColor(string(sess.Phase)))
	return o.drive(ctx)
}

// Abort stops an in-progress git rebase, restoring the source branch, and
// discards the session.
func (o *Orchestrator) Abort(ctx context.Context) (Outcome, error) {
	release, err := o.acquire()
	if err != nil {
		return OutcomeFailed, err
	}
	defer release()

	sess, err := o.load()
	if err != nil {
		return OutcomeFailed, err
	}
	inProgress, err := o.git.RebaseInProgress(ctx)
	if err != nil {
		return OutcomeFailed, err
	}
	if sess == nil && !inProgress {
		return OutcomeFailed, ErrNoSession
	}

	if inProgress {
		if err := o.git.RebaseAbort(ctx); err != nil {
			return OutcomeFailed, fmt.Errorf("abort rebase: %w", err)
		}
		o.ui.Success("Aborted git rebase")
	}

	if sess != nil {
		o.sess = sess
		sess.Phase = models.PhaseAborted
		sess.Step = "aborted by user"
		o.record(ctx, models.PhaseAborted)
		if !inProgress && sess.BackupBranch != "" {
			o.ui.Info("The original commits are on %s; restore with: git reset --hard %s", sess.BackupBranch, sess.BackupBranch)
		}
	}
	if err := o.state.Clear(); err != nil {
		return OutcomeFailed, err
	}
	o.ui.Success("Rebase session discarded")
	return OutcomeAborted, nil
}

// Cleanup removes the persisted session without touching git.
func (o *Orchestrator) Cleanup() error {
	release, err := o.acquire()
	if err != nil {
		return err
	}
	defer release()

	if !o.state.Exists() {
		o.ui.Info("No rebase state to clean up")
		return nil
	}
	if err := o.state.Clear(); err != nil {
		return err
	}
	o.ui.Success("Removed rebase state from %s", o.state.Dir())
	return nil
}

// Status loads the persisted session for display.
func (o *Orchestrator) Status() (*models.Session, error) {
	sess, ok, err := o.state.Load()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSession
	}
	return sess, nil
}

// useSession makes sess current. Its classifier is built from the rules the
// session was created with, never from the current configuration.
func (o *Orchestrator) useSession(sess *models.Session) error {
	rules, err := classify.ParseRules(sess.Config.ClassifierRules)
	if err != nil {
		return fmt.Errorf("session %s: %w", sess.SessionID, err)
	}
	o.sess = sess
	o.classify = classify.New(rules...)
	return nil
}

// load reads the persisted session. A corrupt file counts as no session.
func (o *Orchestrator) load() (*models.Session, error) {
	sess, ok, err := o.state.Load()
	if errors.Is(err, state.ErrCorruptState) {
		o.ui.Warning("Ignoring unreadable rebase state: %v", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return sess, nil
}

func (o *Orchestrator) acquire() (func(), error) {
	if err := backup.EnsureIgnoredDir(o.state.Dir()); err != nil {
		return nil, err
	}
	if err := o.lock.Acquire(); err != nil {
		return nil, err
	}
	return func() {
		if err := o.lock.Release(); err != nil {
			o.ui.Warning("Release lock: %v", err)
		}
	}, nil
}

// attachLog tees UI messages into the session log.
func (o *Orchestrator) attachLog() error {
	if o.ui.Log != nil {
		return nil
	}
	f, err := o.state.OpenLog()
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	o.ui.Log = f
	return nil
}

func (o *Orchestrator) detachLog() {
	if c, ok := o.ui.Log.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	o.ui.Log = nil
}

// record archives the session in the history store. Failures only warn.
func (o *Orchestrator) record(ctx context.Context, outcome models.Phase) {
	if o.history == nil {
		return
	}
	entry := models.NewHistoryEntry(o.sess, o.root)
	entry.Outcome = outcome
	if err := o.history.RecordSession(ctx, entry); err != nil {
		o.ui.Warning("Could not record session history: %v", err)
		return
	}
	o.ui.VerboseLog("Recorded session %s in history as %s", o.sess.SessionID, entry.ID)
}
