package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/autorebase/internal/git"
	"github.com/joescharf/autorebase/internal/git/gittest"
	"github.com/joescharf/autorebase/internal/models"
)

func fixedNow() time.Time { return time.Unix(1700000000, 0) }

func TestNames(t *testing.T) {
	assert.Equal(t, "feature_backup_1700000000", BranchBackupName("feature", fixedNow()))
	assert.Equal(t, "pkg_a_b.go_backup_1700000000", FileBackupName("pkg/a/b.go", fixedNow()))
}

func TestCreateBranchBackup(t *testing.T) {
	r := gittest.Init(t)
	r.Commit("init", map[string]string{"a.txt": "a\n"})
	gc := git.NewClient(r.Dir, 0)
	m := NewManager(gc, r.Dir)
	m.now = fixedNow

	name, err := m.CreateBranchBackup(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, "main_backup_1700000000", name)

	ok, err := gc.RefExists(context.Background(), "refs/heads/"+name)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateFileBackup(t *testing.T) {
	r := gittest.Init(t)
	r.Commit("init", map[string]string{"src/main.go": "conflicted content\n"})
	m := NewManager(git.NewClient(r.Dir, 0), r.Dir)
	m.now = fixedNow

	cf := &models.ConflictFile{Path: "src/main.go"}
	require.NoError(t, m.CreateFileBackup(cf))
	assert.True(t, cf.BackupCreated)
	assert.Equal(t, filepath.Join(DirName, "src_main.go_backup_1700000000"), cf.BackupPath)

	data, err := os.ReadFile(filepath.Join(r.Dir, cf.BackupPath))
	require.NoError(t, err)
	assert.Equal(t, "conflicted content\n", string(data))

	// The backup directory never dirties the working tree.
	assert.Empty(t, r.Git("status", "--porcelain"))
}

func TestCreateFileBackup_Idempotent(t *testing.T) {
	r := gittest.Init(t)
	r.Commit("init", map[string]string{"a.go": "v1\n"})
	m := NewManager(git.NewClient(r.Dir, 0), r.Dir)
	m.now = fixedNow

	cf := &models.ConflictFile{Path: "a.go"}
	require.NoError(t, m.CreateFileBackup(cf))

	r.Write("a.go", "v2\n")
	m.now = func() time.Time { return fixedNow().Add(time.Minute) }
	require.NoError(t, m.CreateFileBackup(cf))

	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	var backups []string
	for _, e := range entries {
		if e.Name() != ".gitignore" {
			backups = append(backups, e.Name())
		}
	}
	assert.Equal(t, []string{"a.go_backup_1700000000"}, backups)
}

func TestCreateFileBackup_MissingFile(t *testing.T) {
	m := NewManager(nil, t.TempDir())
	cf := &models.ConflictFile{Path: "gone.go"}
	assert.Error(t, m.CreateFileBackup(cf))
	assert.False(t, cf.BackupCreated)
}
