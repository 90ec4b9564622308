package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrLocked means another live engine process owns the state directory.
var ErrLocked = errors.New("another rebase engine is running in this repository")

// PIDFile is an advisory single-instance lock keyed by process ID.
type PIDFile struct {
	Path string
	pid  int
}

// NewPIDFile creates a PIDFile lock for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path, pid: os.Getpid()}
}

// Acquire takes the lock for the current process. The file is created
// exclusively; a file left behind by a dead process is removed and creation
// retried once.
func (p *PIDFile) Acquire() error {
	for range 2 {
		err := p.create()
		if err == nil || !errors.Is(err, os.ErrExist) {
			return err
		}

		pid, running := p.IsRunning()
		switch {
		case pid == p.pid:
			return nil
		case running:
			return fmt.Errorf("%w (pid %d, lock %s)", ErrLocked, pid, p.Path)
		case pid == 0 && p.fresh():
			// Another process created the file and has not written its PID yet.
			return fmt.Errorf("%w (lock %s)", ErrLocked, p.Path)
		}
		if err := p.Remove(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return fmt.Errorf("%w (lock %s)", ErrLocked, p.Path)
}

// staleAfter is how long an unreadable lock file is assumed to be mid-write.
const staleAfter = 2 * time.Second

func (p *PIDFile) fresh() bool {
	info, err := os.Stat(p.Path)
	return err == nil && time.Since(info.ModTime()) < staleAfter
}

func (p *PIDFile) create() error {
	f, err := os.OpenFile(p.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(strconv.Itoa(p.pid) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(p.Path)
	}
	return werr
}

// Release removes the lock if this process still holds it.
func (p *PIDFile) Release() error {
	pid, err := p.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != p.pid {
		return nil
	}
	return p.Remove()
}

// WritePID writes the given PID to the file.
func (p *PIDFile) WritePID(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}
