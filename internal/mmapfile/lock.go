package mmapfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/fluffysquirrels/wikimedia-go/internal/wikierr"
)

// WriterLock is an advisory, exclusive, process-lifetime lock file used to
// enforce the single-writer rule on a chunk store directory. It is
// advisory only: a reader that ignores it can still map chunk files
// concurrently, which is exactly what concurrent reads need.
type WriterLock struct {
	file *os.File
}

// AcquireWriterLock opens (creating if necessary) the lock file at path and
// takes a non-blocking exclusive flock on it. It returns wikierr.ErrConflict
// wrapped with context if another process already holds the lock.
func AcquireWriterLock(path string) (*WriterLock, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("mmapfile: open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, fmt.Errorf("mmapfile: %s is locked by another writer: %w", path, wikierr.ErrConflict)
		}
		return nil, fmt.Errorf("mmapfile: flock %s: %w", path, err)
	}

	return &WriterLock{file: file}, nil
}

// Release drops the lock and closes the underlying file.
func (l *WriterLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	cerr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("mmapfile: unlock: %w", err)
	}
	if cerr != nil {
		return fmt.Errorf("mmapfile: close lock file: %w", cerr)
	}
	return nil
}
