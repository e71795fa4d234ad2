// Package pidfile guards against multiple daemon instances.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile is the daemon's pid file
type PIDFile struct {
	path string
	pid  int
}

// New creates a PIDFile for the current process
func New(path string) *PIDFile {
	return &PIDFile{path: path, pid: os.Getpid()}
}

// Create claims the pid file. force removes a live holder's file, used
// when an operator knows the recorded process is defunct.
func (p *PIDFile) Create(force bool) error {
	if existing, err := p.readPID(); err == nil {
		if processAlive(existing) && !force {
			return fmt.Errorf("daemon already running with pid %d", existing)
		}
		if err := os.Remove(p.path); err != nil {
			return fmt.Errorf("failed to remove stale pid file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid file directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", p.pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Remove releases the pid file if this process still owns it
func (p *PIDFile) Remove() error {
	existing, err := p.readPID()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return os.Remove(p.path)
	}
	if existing != p.pid {
		return fmt.Errorf("pid file now owned by pid %d, not removing", existing)
	}
	return os.Remove(p.path)
}

// Path returns the pid file location
func (p *PIDFile) Path() string {
	return p.path
}

func (p *PIDFile) readPID() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file contents: %w", err)
	}
	return pid, nil
}

// processAlive checks for the process with a null signal
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
