// Package lock keeps two builds from writing into the same output directory.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/mattjoyce/parcc/internal/mount"
)

// Filename is the lock file created inside the output directory.
const Filename = ".parcc.lock"

// detector identifies the filesystem of the output directory.
var detector mount.Detector = mount.Detect

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("output directory is locked by another build")

// HeldError reports who holds a lock.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s: held by pid %d", e.Path, e.PID)
	}
	return e.Path + ": held by another process"
}

func (e *HeldError) Unwrap() error { return ErrLocked }

// OutputLock is an exclusive flock(2) on a PID file in the output directory.
// The lock lives as long as the file descriptor stays open.
type OutputLock struct {
	path string
	f    *os.File
}

// Acquire locks outputDir without blocking, creating it if needed, and
// writes the current PID into the lock file. flock is not reliable on network
// mounts, so an output directory on one is refused with mount.ErrNetwork.
func Acquire(outputDir string) (*OutputLock, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("output directory is empty")
	}
	if err := detector.RequireLocal(outputDir, "build.output_dir"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(outputDir, Filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, &HeldError{Path: path, PID: readPID(path)}
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	l := &OutputLock{path: path, f: f}
	if err := l.writePID(); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *OutputLock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(l.f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

func (l *OutputLock) Path() string { return l.path }

// Release drops the lock. It is safe to call more than once.
func (l *OutputLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}

func readPID(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}
