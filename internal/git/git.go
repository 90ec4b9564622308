package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Side selects one half of a conflict for checkout.
type Side string

const (
	Ours   Side = "--ours"
	Theirs Side = "--theirs"
)

// Result is the captured outcome of one git invocation.
type Result struct {
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandError reports a git invocation that exited non-zero.
type CommandError struct {
	Args     []string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: exit %d", strings.Join(e.Args, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Client is the engine's only way to read and mutate the repository.
// All methods run against the repository the client was created for.
type Client interface {
	Run(ctx context.Context, args ...string) (*Result, error)
	RepoRoot(ctx context.Context) (string, error)
	CurrentBranch(ctx context.Context) (string, error)
	RefExists(ctx context.Context, ref string) (bool, error)
	HasRemote(ctx context.Context, name string) (bool, error)
	StatusPorcelain(ctx context.Context) ([]string, error)
	ConflictedFiles(ctx context.Context) ([]string, error)
	CreateBranch(ctx context.Context, name, ref string) error
	Fetch(ctx context.Context, remote string) error
	Rebase(ctx context.Context, target string) error
	RebaseContinue(ctx context.Context) error
	RebaseSkip(ctx context.Context) error
	RebaseAbort(ctx context.Context) error
	RebaseInProgress(ctx context.Context) (bool, error)
	Push(ctx context.Context, remote, branch string, forceWithLease bool) error
	Checkout(ctx context.Context, side Side, path string) error
	Add(ctx context.Context, path string) error
	Show(ctx context.Context, ref, path string) ([]byte, error)
	RevListCount(ctx context.Context, from, to string) (int, error)
	HasStagedChanges(ctx context.Context) (bool, error)
	GitPath(ctx context.Context, name string) (string, error)
}

// RealClient implements Client by shelling out to git.
type RealClient struct {
	Dir     string
	Timeout time.Duration
}

// NewClient returns a RealClient bound to dir. A zero timeout means git
// commands are bounded only by ctx.
func NewClient(dir string, timeout time.Duration) *RealClient {
	return &RealClient{Dir: dir, Timeout: timeout}
}

// waitDelay bounds how long a timed-out git may take to exit after it was
// interrupted before it is killed.
const waitDelay = 10 * time.Second

// Run executes `git -C <dir> args...`, capturing stdout, stderr and the exit code.
// A non-zero exit returns both the Result and a *CommandError.
//
// Cancelling ctx does not stop a running command, and git runs in its own
// process group so a terminal Ctrl-C does not reach it either. git finishes
// the step it started and callers check ctx between commands. Only the
// client's Timeout interrupts git.
func (c *RealClient) Run(ctx context.Context, args ...string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	fullArgs := append([]string{"-C", c.Dir}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	detach(cmd)
	cmd.WaitDelay = waitDelay
	// Never block on an editor; rebase --continue reuses the original message.
	cmd.Env = append(os.Environ(), "GIT_EDITOR=true", "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Args:   args,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return res, &CommandError{Args: args, Stderr: res.Stderr, ExitCode: res.ExitCode, Err: err}
	}
	return res, nil
}

func (c *RealClient) output(ctx context.Context, args ...string) (string, error) {
	res, err := c.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (c *RealClient) RepoRoot(ctx context.Context) (string, error) {
	return c.output(ctx, "rev-parse", "--show-toplevel")
}

func (c *RealClient) CurrentBranch(ctx context.Context) (string, error) {
	return c.output(ctx, "branch", "--show-current")
}

func (c *RealClient) RefExists(ctx context.Context, ref string) (bool, error) {
	_, err := c.Run(ctx, "show-ref", "--verify", "--quiet", ref)
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

func (c *RealClient) HasRemote(ctx context.Context, name string) (bool, error) {
	out, err := c.output(ctx, "remote")
	if err != nil {
		return false, err
	}
	for _, r := range splitLines(out) {
		if r == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *RealClient) StatusPorcelain(ctx context.Context) ([]string, error) {
	res, err := c.Run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	// Leading spaces are significant in porcelain output; only trim newlines.
	var lines []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (c *RealClient) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := c.output(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (c *RealClient) CreateBranch(ctx context.Context, name, ref string) error {
	_, err := c.Run(ctx, "branch", name, ref)
	return err
}

func (c *RealClient) Fetch(ctx context.Context, remote string) error {
	_, err := c.Run(ctx, "fetch", remote)
	return err
}

func (c *RealClient) Rebase(ctx context.Context, target string) error {
	_, err := c.Run(ctx, "rebase", target)
	return err
}

func (c *RealClient) RebaseContinue(ctx context.Context) error {
	_, err := c.Run(ctx, "rebase", "--continue")
	return err
}

func (c *RealClient) RebaseSkip(ctx context.Context) error {
	_, err := c.Run(ctx, "rebase", "--skip")
	return err
}

func (c *RealClient) RebaseAbort(ctx context.Context) error {
	_, err := c.Run(ctx, "rebase", "--abort")
	return err
}

// RebaseInProgress reports whether a rebase-merge or rebase-apply directory exists.
func (c *RealClient) RebaseInProgress(ctx context.Context) (bool, error) {
	for _, name := range []string{"rebase-merge", "rebase-apply"} {
		p, err := c.GitPath(ctx, name)
		if err != nil {
			return false, err
		}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return true, nil
		}
	}
	return false, nil
}

func (c *RealClient) Push(ctx context.Context, remote, branch string, forceWithLease bool) error {
	args := []string{"push"}
	if forceWithLease {
		args = append(args, "--force-with-lease")
	}
	args = append(args, remote, branch)
	_, err := c.Run(ctx, args...)
	return err
}

func (c *RealClient) Checkout(ctx context.Context, side Side, path string) error {
	_, err := c.Run(ctx, "checkout", string(side), "--", path)
	return err
}

func (c *RealClient) Add(ctx context.Context, path string) error {
	_, err := c.Run(ctx, "add", "--", path)
	return err
}

// Show returns the raw blob content of path at ref.
func (c *RealClient) Show(ctx context.Context, ref, path string) ([]byte, error) {
	res, err := c.Run(ctx, "show", ref+":"+path)
	if err != nil {
		return nil, err
	}
	return []byte(res.Stdout), nil
}

func (c *RealClient) RevListCount(ctx context.Context, from, to string) (int, error) {
	out, err := c.output(ctx, "rev-list", "--count", from+".."+to)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parse rev-list count %q: %w", out, err)
	}
	return n, nil
}

// HasStagedChanges reports whether the index differs from HEAD.
func (c *RealClient) HasStagedChanges(ctx context.Context) (bool, error) {
	_, err := c.Run(ctx, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return true, nil
	}
	return false, err
}

// GitPath resolves a path inside the git directory, absolute.
func (c *RealClient) GitPath(ctx context.Context, name string) (string, error) {
	out, err := c.output(ctx, "rev-parse", "--git-path", name)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(c.Dir, out)
	}
	return out, nil
}

// ParsePorcelainPath extracts the path from a `status --porcelain` line.
func ParsePorcelainPath(line string) string {
	if len(line) < 4 {
		return strings.TrimSpace(line)
	}
	path := line[3:]
	if i := strings.Index(path, " -> "); i >= 0 {
		path = path[i+4:]
	}
	return strings.Trim(path, `"`)
}

func splitLines(out string) []string {
	if out == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
