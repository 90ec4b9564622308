package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Phase is a position in the rebase state machine.
type Phase string

const (
	PhaseInit               Phase = "INIT"
	PhasePrerequisites      Phase = "PREREQUISITES"
	PhaseBackup             Phase = "BACKUP"
	PhaseRebaseStart        Phase = "REBASE_START"
	PhaseRebaseInProgress   Phase = "REBASE_IN_PROGRESS"
	PhaseConflictResolution Phase = "CONFLICT_RESOLUTION"
	PhaseRebaseContinue     Phase = "REBASE_CONTINUE"
	PhasePush               Phase = "PUSH"
	PhaseCleanup            Phase = "CLEANUP"
	PhaseComplete           Phase = "COMPLETE"
	PhaseFailed             Phase = "FAILED"
	PhaseAborted            Phase = "ABORTED"
)

var phases = []Phase{
	PhaseInit, PhasePrerequisites, PhaseBackup, PhaseRebaseStart,
	PhaseRebaseInProgress, PhaseConflictResolution, PhaseRebaseContinue,
	PhasePush, PhaseCleanup, PhaseComplete, PhaseFailed, PhaseAborted,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, known := range phases {
		if p == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions follow p.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseAborted
}

// Mode selects how conflicts are handled.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeAutomated   Mode = "automated"
	ModeSmart       Mode = "smart"
)

// ParseMode converts a flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeInteractive, ModeAutomated, ModeSmart:
		return m, nil
	case "":
		return ModeSmart, nil
	default:
		return "", fmt.Errorf("invalid mode %q (want interactive, automated or smart)", s)
	}
}

// RunConfig is fixed when a session is created and persisted with it.
// A resumed session keeps its original RunConfig.
type RunConfig struct {
	ForcePush       bool     `json:"force_push"`
	DryRun          bool     `json:"dry_run"`
	Verbose         bool     `json:"verbose"`
	Mode            Mode     `json:"mode"`
	NonInteractive  bool     `json:"non_interactive"`
	Remote          string   `json:"remote"`
	ClassifierRules []string `json:"classifier_rules,omitempty"` // "pattern=STRATEGY", before the defaults
}

// Session is the persisted state of one rebase run.
type Session struct {
	SessionID             string         `json:"session_id"`
	Phase                 Phase          `json:"phase"`
	Step                  string         `json:"step"`
	SourceBranch          string         `json:"source_branch"`
	TargetBranch          string         `json:"target_branch"`
	BackupBranch          string         `json:"backup_branch"`
	TotalCommits          int            `json:"total_commits"`
	ProcessedCommits      int            `json:"processed_commits"`
	ProgressPercent       int            `json:"progress_percent"`
	RebaseAttempt         int            `json:"rebase_attempt"`
	Conflicts             []ConflictFile `json:"conflicts"`
	ResolvedConflictCount int            `json:"resolved_conflict_count"`
	Config                RunConfig      `json:"config"`
	ErrorMessages         []string       `json:"error_messages"`
	RecoveryInstructions  []string       `json:"recovery_instructions"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// NewSession returns a session at PhaseInit.
func NewSession(id, target string, cfg RunConfig) *Session {
	now := time.Now().UTC()
	return &Session{
		SessionID:    id,
		Phase:        PhaseInit,
		Step:         "created",
		TargetBranch: target,
		Config:       cfg,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SetProgress records commit progress and recomputes the percentage.
func (s *Session) SetProgress(total, processed int) {
	if total < 0 {
		total = 0
	}
	processed = max(0, min(processed, total))
	s.TotalCommits = total
	s.ProcessedCommits = processed
	s.ProgressPercent = percent(processed, total)
}

func percent(n, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(n) / float64(total)))
}

// RecountResolved refreshes ResolvedConflictCount from the conflict list.
func (s *Session) RecountResolved() {
	n := 0
	for _, c := range s.Conflicts {
		if c.Resolved {
			n++
		}
	}
	s.ResolvedConflictCount = n
}

// AddError appends a diagnostic message.
func (s *Session) AddError(msg string) {
	s.ErrorMessages = append(s.ErrorMessages, msg)
}

// AddRecovery appends a recovery instruction unless it is already present.
func (s *Session) AddRecovery(msg string) {
	for _, m := range s.RecoveryInstructions {
		if m == msg {
			return
		}
	}
	s.RecoveryInstructions = append(s.RecoveryInstructions, msg)
}

// CurrentConflicts returns pointers to the entries of the active rebase attempt.
func (s *Session) CurrentConflicts() []*ConflictFile {
	var out []*ConflictFile
	for i := range s.Conflicts {
		if s.Conflicts[i].Attempt == s.RebaseAttempt {
			out = append(out, &s.Conflicts[i])
		}
	}
	return out
}

// FindConflict returns the active attempt's entry for path.
func (s *Session) FindConflict(path string) *ConflictFile {
	for i := range s.Conflicts {
		if s.Conflicts[i].Attempt == s.RebaseAttempt && s.Conflicts[i].Path == path {
			return &s.Conflicts[i]
		}
	}
	return nil
}

// UnresolvedConflicts lists the active attempt's entries still needing work.
func (s *Session) UnresolvedConflicts() []*ConflictFile {
	var out []*ConflictFile
	for _, c := range s.CurrentConflicts() {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks the structural invariants of a loaded session.
func (s *Session) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("missing session_id")
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if s.TargetBranch == "" {
		return fmt.Errorf("missing target_branch")
	}
	if s.TotalCommits < 0 || s.ProcessedCommits < 0 || s.ProcessedCommits > s.TotalCommits {
		return fmt.Errorf("commit counts out of range: %d/%d", s.ProcessedCommits, s.TotalCommits)
	}
	if s.ProgressPercent != percent(s.ProcessedCommits, s.TotalCommits) {
		return fmt.Errorf("progress_percent %d does not match %d/%d", s.ProgressPercent, s.ProcessedCommits, s.TotalCommits)
	}
	if _, err := ParseMode(string(s.Config.Mode)); err != nil {
		return err
	}

	resolved := 0
	seen := make(map[string]bool)
	for _, c := range s.Conflicts {
		if c.Path == "" {
			return fmt.Errorf("conflict entry without path")
		}
		if !c.Strategy.Valid() {
			return fmt.Errorf("conflict %s: unknown strategy %q", c.Path, c.Strategy)
		}
		key := fmt.Sprintf("%d:%s", c.Attempt, c.Path)
		if seen[key] {
			return fmt.Errorf("conflict %s listed twice in attempt %d", c.Path, c.Attempt)
		}
		seen[key] = true
		if c.Resolved {
			resolved++
		}
	}
	if resolved != s.ResolvedConflictCount {
		return fmt.Errorf("resolved_conflict_count %d, counted %d", s.ResolvedConflictCount, resolved)
	}
	return nil
}
