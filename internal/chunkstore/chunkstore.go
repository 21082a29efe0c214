// Package chunkstore manages the on-disk chunk files that hold encoded
// page batches. It owns the "chunks/" directory: naming committed files,
// staging in-flight writes under "chunks/temp/", and mapping committed
// files read-only for lookups. Chunk IDs themselves are allocated by
// internal/index, not here: recovery walks chunk_wip rows, never the
// directory listing.
package chunkstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fluffysquirrels/wikimedia-go/internal/chunkcodec"
	"github.com/fluffysquirrels/wikimedia-go/internal/mmapfile"
	"github.com/fluffysquirrels/wikimedia-go/internal/wikierr"
)

const (
	chunksDirName = "chunks"
	tempDirName   = "temp"
	lockFileName  = "lock"
)

// Store manages a single wiki's chunk directory.
type Store struct {
	root string // .../chunks
	temp string // .../chunks/temp
	lock *mmapfile.WriterLock
}

// Open prepares the chunk directory layout under root (the store's
// top-level directory; Store itself owns root/chunks). It does not take
// the writer lock; call Lock before writing.
func Open(root string) (*Store, error) {
	chunksDir := filepath.Join(root, chunksDirName)
	tempDir := filepath.Join(chunksDir, tempDirName)

	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, &wikierr.ChunkStoreIoError{Op: "mkdir", Path: tempDir, Err: err}
	}

	return &Store{root: chunksDir, temp: tempDir}, nil
}

// Lock acquires the exclusive advisory writer lock for this store. It must
// be held for the duration of any write; readers never call it.
func (s *Store) Lock() error {
	l, err := mmapfile.AcquireWriterLock(filepath.Join(s.root, lockFileName))
	if err != nil {
		if errors.Is(err, wikierr.ErrConflict) {
			return err
		}
		return &wikierr.ChunkStoreIoError{Op: "lock", Path: s.root, Err: err}
	}
	s.lock = l
	return nil
}

// Unlock releases the writer lock acquired by Lock.
func (s *Store) Unlock() error {
	if s.lock == nil {
		return nil
	}
	err := s.lock.Release()
	s.lock = nil
	if err != nil {
		return &wikierr.ChunkStoreIoError{Op: "unlock", Path: s.root, Err: err}
	}
	return nil
}

// ChunkPath returns the on-disk path a committed chunk with this ID would
// have, following "articles-<id:016x>.dat" naming.
func (s *Store) ChunkPath(chunkID uint64) string {
	return filepath.Join(s.root, fmt.Sprintf("articles-%016x.dat", chunkID))
}

// StageWrite writes data to a fresh file under chunks/temp and fsyncs it,
// returning the temp path. The caller (internal/importer) later asks
// Publish to rename it into place once the owning index transaction has
// recorded the chunk_wip row.
func (s *Store) StageWrite(data []byte) (tempPath string, err error) {
	tempPath, err = mmapfile.WriteTempSync(s.temp, "*.dat", data)
	if err != nil {
		return "", &wikierr.ChunkStoreIoError{Op: "write-temp", Path: s.temp, Err: err}
	}
	return tempPath, nil
}

// Publish renames tempPath into its final committed location for chunkID
// and fsyncs the chunks directory. internal/importer calls it after the
// chunk_wip row for chunkID has been committed and before the index
// transaction that records the chunk begins.
func (s *Store) Publish(tempPath string, chunkID uint64) (string, error) {
	finalPath := s.ChunkPath(chunkID)

	if err := mmapfile.RenameSync(s.root, tempPath, finalPath); err != nil {
		return "", &wikierr.ChunkStoreIoError{Op: "publish", Path: finalPath, Err: err}
	}

	return finalPath, nil
}

// DiscardTemp removes a staged write that will never be published, e.g.
// because the owning import was cancelled before the commit transaction
// completed.
func (s *Store) DiscardTemp(tempPath string) error {
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		return &wikierr.ChunkStoreIoError{Op: "discard-temp", Path: tempPath, Err: err}
	}
	return nil
}

// Exists reports whether a committed chunk file exists for chunkID,
// consulted during startup recovery to tell a published-but-uncommitted
// chunk apart from one whose write never finished.
func (s *Store) Exists(chunkID uint64) bool {
	_, err := os.Stat(s.ChunkPath(chunkID))
	return err == nil
}

// MappedChunk owns a memory-mapped chunk file plus its decoded view.
// Verification runs once, in Map; PageView accesses never re-verify.
type MappedChunk struct {
	mapped *mmapfile.ReadOnly
	view   *chunkcodec.ChunkView
}

// Map opens and verifies the committed chunk file for chunkID, returning a
// handle that owns the mapping. Callers must Close it when done.
func (s *Store) Map(chunkID uint64) (*MappedChunk, error) {
	path := s.ChunkPath(chunkID)

	mapped, err := mmapfile.OpenReadOnly(path)
	if err != nil {
		return nil, &wikierr.ChunkStoreIoError{Op: "map", Path: path, Err: err}
	}

	view, err := chunkcodec.Decode(mapped.Bytes())
	if err != nil {
		mapped.Close()
		return nil, fmt.Errorf("chunkstore: verify %s: %w", path, err)
	}

	return &MappedChunk{mapped: mapped, view: view}, nil
}

// View returns the decoded, zero-copy view of this chunk.
func (mc *MappedChunk) View() *chunkcodec.ChunkView { return mc.view }

// Close unmaps the chunk file. Any PageView obtained from View must not be
// used after Close.
func (mc *MappedChunk) Close() error { return mc.mapped.Close() }

// RemoveTempDir clears any leftover in-flight writes from a previous,
// uncleanly terminated process. Called at the start of each import run
// (internal/importer), ahead of index recovery, following the "temp file
// (if any) is removed" step.
func (s *Store) RemoveTempDir() error {
	entries, err := os.ReadDir(s.temp)
	if err != nil {
		return &wikierr.ChunkStoreIoError{Op: "readdir", Path: s.temp, Err: err}
	}
	for _, e := range entries {
		p := filepath.Join(s.temp, e.Name())
		if err := os.Remove(p); err != nil {
			return &wikierr.ChunkStoreIoError{Op: "remove", Path: p, Err: err}
		}
	}
	return nil
}

// RemoveChunk deletes a committed chunk file, used by Store.Clear to wipe
// the store after the index has been transactionally truncated.
func (s *Store) RemoveChunk(chunkID uint64) error {
	path := s.ChunkPath(chunkID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &wikierr.ChunkStoreIoError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// ClearAll removes every committed chunk file. A clear truncates the index
// first and removes chunk files after, so this is always the second step.
func (s *Store) ClearAll() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return &wikierr.ChunkStoreIoError{Op: "readdir", Path: s.root, Err: err}
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "articles-") {
			continue
		}
		p := filepath.Join(s.root, e.Name())
		if err := os.Remove(p); err != nil {
			return &wikierr.ChunkStoreIoError{Op: "remove", Path: p, Err: err}
		}
	}
	return nil
}
