// Package mmapfile memory-maps chunk files for zero-copy reads. Chunk files
// are written once (see internal/chunkstore) and mapped read-only after
// that, so this package is deliberately narrower than a general-purpose
// read/write mapper: there is no Grow, no write-back Sync.
package mmapfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ReadOnly is a memory-mapped, read-only view of a file on disk.
type ReadOnly struct {
	file *os.File
	data []byte
}

// OpenReadOnly maps the whole of path into memory for reading. The file
// must not be empty; chunk files are always written with their final
// contents before being published (see chunkstore's write path), so an
// empty mapping would indicate a bug rather than a legitimate state.
func OpenReadOnly(path string) (*ReadOnly, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmapfile: open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmapfile: stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		file.Close()
		return nil, fmt.Errorf("mmapfile: %s is empty", path)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmapfile: mmap %s: %w", path, err)
	}

	return &ReadOnly{file: file, data: data}, nil
}

// Bytes returns the mapped contents. The returned slice is only valid
// until Close is called.
func (m *ReadOnly) Bytes() []byte { return m.data }

// Close unmaps and closes the underlying file.
func (m *ReadOnly) Close() error {
	var err error
	if m.data != nil {
		if uerr := unix.Munmap(m.data); uerr != nil {
			err = fmt.Errorf("mmapfile: munmap: %w", uerr)
		}
		m.data = nil
	}
	if m.file != nil {
		if cerr := m.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("mmapfile: close: %w", cerr)
		}
		m.file = nil
	}
	return err
}

// WriteTempSync writes data to a fresh, uniquely-named temp file in dir and
// fsyncs it before returning its path. It is the first half of a durable
// write; the file is not visible under any stable name until RenameSync
// publishes it. Splitting the write this way lets a caller record the temp
// path elsewhere (e.g. a pending-commit row) before the rename that makes
// it visible, rather than needing the whole write and publish to happen in
// one call.
func WriteTempSync(dir, pattern string, data []byte) (tempPath string, err error) {
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("mmapfile: create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("mmapfile: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("mmapfile: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("mmapfile: close temp file: %w", err)
	}

	return tmpName, nil
}

// RenameSync renames tempPath onto path and fsyncs dir (path's parent), the
// second half of a durable write started by WriteTempSync. The rename is
// the only thing that makes a written file visible under its final name,
// so a crash before it leaves path untouched.
func RenameSync(dir, tempPath, path string) error {
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("mmapfile: rename %s to %s: %w", tempPath, path, err)
	}

	dirFile, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("mmapfile: reopen %s to fsync: %w", dir, err)
	}
	defer dirFile.Close()
	if err := dirFile.Sync(); err != nil {
		return fmt.Errorf("mmapfile: fsync %s: %w", dir, err)
	}

	return nil
}
