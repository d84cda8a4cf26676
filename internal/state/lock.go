package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

var ErrLockHeld = errors.New("lock already held")

// FileLock is an advisory, non-blocking flock on a sidecar file. It keeps two
// processes from writing the same output at once.
type FileLock struct {
	file *os.File
	path string
}

// LockPathFor returns the sidecar lock path for target.
func LockPathFor(target string) string {
	return target + ".lock"
}

func AcquireFileLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrLockHeld, path, err)
	}
	return &FileLock{file: f, path: path}, nil
}

func (l *FileLock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	defer func() { l.file = nil }()
	// unlink while still holding the lock so a waiter never locks a stale file
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = l.file.Close()
		return err
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
