package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joescharf/autorebase/internal/backup"
	"github.com/joescharf/autorebase/internal/models"
)

// DirName is the state directory, relative to the repository root.
const DirName = ".rebase-state"

const (
	StateFile    = "rebase.state"
	ProgressFile = "progress.json"
	LogFile      = "rebase.log"
	RecoveryFile = "recovery_instructions.md"
	SummaryFile  = "summary.md"
	LockFile     = "engine.pid"
)

// ErrCorruptState means the state file exists but cannot be trusted.
var ErrCorruptState = errors.New("corrupt rebase state")

// Progress is the lightweight snapshot written for external polling.
type Progress struct {
	Phase             models.Phase `json:"phase"`
	Step              string       `json:"step"`
	ProgressPercent   int          `json:"progress_percent"`
	ConflictsTotal    int          `json:"conflicts_total"`
	ConflictsResolved int          `json:"conflicts_resolved"`
	Timestamp         time.Time    `json:"timestamp"`
}

// Store persists a Session under <root>/.rebase-state.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore returns a store for the repository at root.
func NewStore(root string) *Store {
	return &Store{dir: filepath.Join(root, DirName), now: time.Now}
}

// Dir returns the absolute state directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute path of a file in the state directory.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// Save writes the full session, then the progress file.
func (s *Store) Save(sess *models.Session) error {
	if err := backup.EnsureIgnoredDir(s.dir); err != nil {
		return err
	}

	sess.UpdatedAt = s.now().UTC()
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := writeAtomic(s.Path(StateFile), data); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	// Written second so the progress file never runs ahead of the state file.
	// Conflict counts cover the current stop only.
	current := sess.CurrentConflicts()
	resolved := 0
	for _, c := range current {
		if c.Resolved {
			resolved++
		}
	}
	p := Progress{
		Phase:             sess.Phase,
		Step:              sess.Step,
		ProgressPercent:   sess.ProgressPercent,
		ConflictsTotal:    len(current),
		ConflictsResolved: resolved,
		Timestamp:         sess.UpdatedAt,
	}
	pdata, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := writeAtomic(s.Path(ProgressFile), pdata); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

// Load reads the persisted session. ok is false when none exists. An
// unparseable or structurally invalid file returns ErrCorruptState.
func (s *Store) Load() (*models.Session, bool, error) {
	data, err := os.ReadFile(s.Path(StateFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read state: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if err := sess.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return &sess, true, nil
}

// LoadProgress reads the progress file.
func (s *Store) LoadProgress() (*Progress, error) {
	data, err := os.ReadFile(s.Path(ProgressFile))
	if err != nil {
		return nil, err
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &p, nil
}

// Exists reports whether a state file is present, valid or not.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path(StateFile))
	return err == nil
}

// Clear removes the session and its derived files. The log and summary stay.
func (s *Store) Clear() error {
	for _, name := range []string{StateFile, ProgressFile, RecoveryFile} {
		if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

// WriteRecovery replaces the recovery instructions file.
func (s *Store) WriteRecovery(content []byte) error {
	return s.writeDoc(RecoveryFile, content)
}

// WriteSummary replaces the completion summary file.
func (s *Store) WriteSummary(content []byte) error {
	return s.writeDoc(SummaryFile, content)
}

func (s *Store) writeDoc(name string, content []byte) error {
	if err := backup.EnsureIgnoredDir(s.dir); err != nil {
		return err
	}
	if err := writeAtomic(s.Path(name), content); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// OpenLog opens the append-only session log.
func (s *Store) OpenLog() (*os.File, error) {
	if err := backup.EnsureIgnoredDir(s.dir); err != nil {
		return nil, err
	}
	return os.OpenFile(s.Path(LogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
