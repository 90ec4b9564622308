package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joescharf/autorebase/internal/git"
	"github.com/joescharf/autorebase/internal/models"
)

// DirName is the per-file backup directory, relative to the repository root.
const DirName = ".rebase-backup"

// Manager snapshots branches and files before the engine mutates them.
type Manager struct {
	git  git.Client
	root string
	now  func() time.Time
}

// NewManager creates a backup manager for the repository at root.
func NewManager(gc git.Client, root string) *Manager {
	return &Manager{git: gc, root: root, now: time.Now}
}

// Dir returns the absolute backup directory.
func (m *Manager) Dir() string {
	return filepath.Join(m.root, DirName)
}

// BranchBackupName returns the backup branch name for branch at t.
func BranchBackupName(branch string, t time.Time) string {
	return fmt.Sprintf("%s_backup_%d", branch, t.Unix())
}

// CreateBranchBackup creates <branch>_backup_<unixtime> pointing at branch.
func (m *Manager) CreateBranchBackup(ctx context.Context, branch string) (string, error) {
	name := BranchBackupName(branch, m.now())
	if err := m.git.CreateBranch(ctx, name, branch); err != nil {
		return "", fmt.Errorf("create backup branch %s: %w", name, err)
	}
	return name, nil
}

// FileBackupName flattens a repo-relative path into a backup file name.
func FileBackupName(path string, t time.Time) string {
	flat := strings.ReplaceAll(filepath.ToSlash(path), "/", "_")
	return fmt.Sprintf("%s_backup_%d", flat, t.Unix())
}

// CreateFileBackup copies the working-tree file into the backup directory.
// It does nothing when the entry already has a backup.
func (m *Manager) CreateFileBackup(cf *models.ConflictFile) error {
	if cf.BackupCreated {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(m.root, cf.Path))
	if err != nil {
		return fmt.Errorf("read %s for backup: %w", cf.Path, err)
	}
	if err := EnsureIgnoredDir(m.Dir()); err != nil {
		return err
	}

	dest := filepath.Join(m.Dir(), FileBackupName(cf.Path, m.now()))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write backup %s: %w", dest, err)
	}
	cf.BackupCreated = true
	cf.BackupPath = filepath.Join(DirName, filepath.Base(dest))
	return nil
}

// EnsureIgnoredDir creates dir with a catch-all .gitignore so its contents
// never show up in `git status`.
func EnsureIgnoredDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	ignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(ignore); err == nil {
		return nil
	}
	if err := os.WriteFile(ignore, []byte("*\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ignore, err)
	}
	return nil
}
