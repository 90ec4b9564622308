// Package gittest builds throwaway git repositories for tests.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Repo is a scratch repository rooted at Dir.
type Repo struct {
	t   *testing.T
	Dir string
}

// Init creates a repo on branch main with a user config so commits work on CI.
func Init(t *testing.T) *Repo {
	t.Helper()
	r := &Repo{t: t, Dir: t.TempDir()}
	r.Git("init", "-b", "main")
	r.Git("config", "user.email", "test@test.com")
	r.Git("config", "user.name", "Test")
	r.Git("config", "commit.gpgsign", "false")
	return r
}

// Git runs a git command in the repo and fails the test on error.
func (r *Repo) Git(args ...string) string {
	r.t.Helper()
	out, err := r.TryGit(args...)
	require.NoError(r.t, err, "git %s: %s", strings.Join(args, " "), out)
	return out
}

// TryGit runs a git command and returns its combined output and error.
func (r *Repo) TryGit(args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", r.Dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_EDITOR=true")
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// Write writes content to a repo-relative path, creating parent directories.
func (r *Repo) Write(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.Dir, path)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(r.t, os.WriteFile(full, []byte(content), 0o644))
}

// Read returns the content of a repo-relative path.
func (r *Repo) Read(path string) string {
	r.t.Helper()
	data, err := os.ReadFile(filepath.Join(r.Dir, path))
	require.NoError(r.t, err)
	return string(data)
}

// Commit writes files and commits them with msg.
func (r *Repo) Commit(msg string, files map[string]string) {
	r.t.Helper()
	for path, content := range files {
		r.Write(path, content)
		r.Git("add", "--", path)
	}
	r.Git("commit", "--allow-empty", "-m", msg)
}

// Diverge builds the usual rebase fixture: base files on main, a feature
// branch that changes them one way, and main changing them another way.
// The feature branch is checked out on return.
func (r *Repo) Diverge(base, feature, upstream map[string]string) {
	r.t.Helper()
	r.Commit("base", base)
	r.Git("checkout", "-b", "feature")
	r.Commit("feature change", feature)
	r.Git("checkout", "main")
	r.Commit("upstream change", upstream)
	r.Git("checkout", "feature")
}
