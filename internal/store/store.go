// Package store assembles the chunk store and index into a single facade:
// one process-wide entry point per wiki, opened under
// <root>/stores/<wiki>/, that drives imports and serves lookups.
package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fluffysquirrels/wikimedia-go/internal/chunkstore"
	"github.com/fluffysquirrels/wikimedia-go/internal/importer"
	"github.com/fluffysquirrels/wikimedia-go/internal/index"
	"github.com/fluffysquirrels/wikimedia-go/internal/textsearch"
	"github.com/fluffysquirrels/wikimedia-go/internal/wikipage"
)

// ImportReport and BatchFailure are the store-wide import summary produced
// by a completed (or failed) import; internal/importer already defines
// their shape, so the facade just re-exports it under this package's name
// rather than duplicating the struct.
type ImportReport = importer.Report
type BatchFailure = importer.BatchFailure

// Options configures a Store via an explicit constructor argument rather
// than ambient config loading.
type Options struct {
	// PagesPerChunk and Parallelism are forwarded to every Import call's
	// importer.Options unless overridden there. The page limit is not a
	// store option; it is set per Import call in importer.Options.
	PagesPerChunk int
	Parallelism   int
}

// Store is one wiki's assembled chunk store + index.
type Store struct {
	wikiName string
	chunks   *chunkstore.Store
	idx      *index.Index
	search   *textsearch.Searcher
	opts     Options
}

// Open prepares (creating if necessary) the on-disk layout under
// root/stores/wikiName. It does not run import recovery itself — that
// happens lazily, at the start of the next Import call, not on every
// read-only open.
func Open(root, wikiName string, opts Options) (*Store, error) {
	storeDir := filepath.Join(root, "stores", wikiName)

	chunks, err := chunkstore.Open(storeDir)
	if err != nil {
		return nil, fmt.Errorf("store: open chunk store: %w", err)
	}

	idx, err := index.Open(filepath.Join(storeDir, "index"))
	if err != nil {
		return nil, fmt.Errorf("store: open index: %w", err)
	}

	return &Store{
		wikiName: wikiName,
		chunks:   chunks,
		idx:      idx,
		search:   textsearch.New(idx),
		opts:     opts,
	}, nil
}

// Close releases the index's connection handles. The chunk store itself
// holds no persistent handle once unlocked.
func (s *Store) Close() error {
	return s.idx.Close()
}

// Import runs one dump-directory import, applying s's default
// PagesPerChunk/Parallelism to jobOpts unless the caller already set them.
func (s *Store) Import(ctx context.Context, jobDir string, jobOpts importer.Options) (*ImportReport, error) {
	jobOpts.JobDir = jobDir
	if jobOpts.PagesPerChunk == 0 {
		jobOpts.PagesPerChunk = s.opts.PagesPerChunk
	}
	if jobOpts.Parallelism == 0 {
		jobOpts.Parallelism = s.opts.Parallelism
	}

	im := importer.New(s.chunks, s.idx, jobOpts)
	return im.Run(ctx)
}

// GetPageByID resolves a page by its numeric MediaWiki ID, copying it out
// of the chunk store's mapping before returning: the mapping this page was
// read from may be closed by the time the caller uses the result.
func (s *Store) GetPageByID(ctx context.Context, id uint64) (*wikipage.Page, error) {
	loc, err := s.idx.LookupByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.readPage(loc)
}

// GetPageBySlug returns every page whose slug matches (case-insensitively).
// Titles are not globally unique across namespaces collapsed into the same
// slug by normalisation, so resolving ambiguity among the results is left
// to the caller.
func (s *Store) GetPageBySlug(ctx context.Context, slug string) ([]*wikipage.Page, error) {
	locs, err := s.idx.LookupBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	pages := make([]*wikipage.Page, 0, len(locs))
	for _, loc := range locs {
		p, err := s.readPage(&loc)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, nil
}

func (s *Store) readPage(loc *index.PageLocation) (*wikipage.Page, error) {
	mapped, err := s.chunks.Map(loc.ChunkID)
	if err != nil {
		return nil, err
	}
	defer mapped.Close()

	pv, err := mapped.View().Page(loc.SlotIndex)
	if err != nil {
		return nil, err
	}
	return pv.ToPage(), nil
}

// ListCategory pages forward through a category's membership, ordered by
// MediaWiki ID.
func (s *Store) ListCategory(ctx context.Context, categorySlug string, after *uint64, limit int) ([]index.CategoryEntry, error) {
	return s.idx.ListCategory(ctx, categorySlug, after, limit)
}

// SearchTitle runs title search (literal prefix match, stemmed fallback)
// over the index.
func (s *Store) SearchTitle(ctx context.Context, query string, limit int) ([]index.CategoryEntry, error) {
	return s.search.SearchTitle(ctx, query, limit)
}

// Clear truncates the index and removes every chunk file. The index is
// truncated first, then chunk files are removed, so a crash mid-clear
// never leaves the index pointing at a chunk file that no longer exists.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.idx.Clear(ctx); err != nil {
		return fmt.Errorf("store: clear index: %w", err)
	}
	if err := s.chunks.ClearAll(); err != nil {
		return fmt.Errorf("store: clear chunks: %w", err)
	}
	return nil
}
