// Package lockfile keeps two painters from running against the same
// workspace at once.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned when a live process holds the lock.
var ErrAlreadyRunning = errors.New("lockfile: another painter is running")

// HeldError names the process holding the lock.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lockfile: %s is held by pid %d", e.Path, e.PID)
}

func (e *HeldError) Unwrap() error { return ErrAlreadyRunning }

// Lock is an acquired lock file.
type Lock struct {
	path string
	pid  int
}

// Acquire writes the current pid to path. A lock left by a process that is
// no longer alive is reclaimed.
func Acquire(path string) (*Lock, error) {
	pid := os.Getpid()
	for i := 0; i < 2; i++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(pid) + "\n")
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("lockfile: write %s: %w", path, errors.Join(werr, cerr))
			}
			return &Lock{path: path, pid: pid}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lockfile: %w", err)
		}

		holder, err := readPID(path)
		if err == nil && holder != pid && alive(holder) {
			return nil, &HeldError{Path: path, PID: holder}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("lockfile: remove stale %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("lockfile: could not acquire %s", path)
}

// Release removes the lock file if it still belongs to this process.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	holder, err := readPID(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if holder != l.pid {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("lockfile: %w", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

func readPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("lockfile: %s holds no pid", path)
	}
	return pid, nil
}
