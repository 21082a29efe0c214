// Package index is the relational lookup index: a single sqlite database
// mapping page IDs, slugs, and category memberships onto chunk-store
// locations, under a transactional commit discipline that keeps it
// consistent with the chunk store across a crash. It is built on
// database/sql and github.com/mattn/go-sqlite3.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fluffysquirrels/wikimedia-go/internal/wikierr"
)

const busyTimeoutMillis = 30000

// Index owns one wiki's index.db: a single writer connection serialising
// all writes, and a bounded pool of read-only connections.
type Index struct {
	writer *sql.DB
	reader *sql.DB
	dbPath string
}

// PageLocation is the (chunk_id, slot_index) pair a lookup resolves to.
type PageLocation struct {
	ChunkID   uint64
	SlotIndex uint32
}

// PageRow is everything CommitChunk needs to know about one page to write
// its page, page_fts, and category_link rows.
type PageRow struct {
	MediaWikiID      uint64
	NamespaceID      int32
	Title            string
	Slug             string
	RedirectTitle    string // "" if this page isn't a redirect
	SlotIndex        uint32
	RevisionID       uint64
	HasParentID      bool
	RevisionParentID uint64
	HasTimestamp     bool
	TimestampUnix    int64
	HasSHA1          bool
	SHA1Word0        uint64
	SHA1Word1        uint64
	SHA1Word2        uint32
	Categories       []string // category slugs discovered in this page's wikitext
}

// CategoryEntry is one row of a category listing or title search result.
type CategoryEntry struct {
	MediaWikiID uint64
	Title       string
}

// Open opens (creating if necessary) the index database under dir, which
// corresponds to the "index/" subdirectory of a store. dir will hold
// index.db, index.db-wal, and index.db-shm.
func Open(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &wikierr.IndexError{Op: "mkdir", Err: err}
	}
	dbPath := filepath.Join(dir, "index.db")

	writer, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, &wikierr.IndexError{Op: "open-writer", Err: err}
	}
	writer.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMillis),
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := writer.Exec(pragma); err != nil {
			writer.Close()
			return nil, &wikierr.IndexError{Op: "pragma " + pragma, Err: err}
		}
	}

	if _, err := writer.Exec(schema); err != nil {
		writer.Close()
		return nil, &wikierr.IndexError{Op: "ensure-schema", Err: err}
	}

	readerDSN := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", dbPath, busyTimeoutMillis)
	reader, err := sql.Open("sqlite3", readerDSN)
	if err != nil {
		writer.Close()
		return nil, &wikierr.IndexError{Op: "open-reader", Err: err}
	}
	reader.SetMaxOpenConns(readerPoolSize())

	return &Index{writer: writer, reader: reader, dbPath: dbPath}, nil
}

func readerPoolSize() int {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}

// Close releases both connection handles.
func (ix *Index) Close() error {
	werr := ix.writer.Close()
	rerr := ix.reader.Close()
	if werr != nil {
		return &wikierr.IndexError{Op: "close-writer", Err: werr}
	}
	if rerr != nil {
		return &wikierr.IndexError{Op: "close-reader", Err: rerr}
	}
	return nil
}

// AllocateChunkID implements step 1 of the commit protocol: it consults
// the store-wide counter row for a fresh, monotonic chunk ID and records
// it in chunk_wip, all inside one short transaction.
func (ix *Index) AllocateChunkID(ctx context.Context) (uint64, error) {
	tx, err := ix.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, &wikierr.IndexError{Op: "allocate-chunk-id/begin", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE counter SET value = value + 1 WHERE name = 'chunk_id'`); err != nil {
		return 0, &wikierr.IndexError{Op: "allocate-chunk-id/increment", Err: err}
	}

	var chunkID uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT value FROM counter WHERE name = 'chunk_id'`).Scan(&chunkID); err != nil {
		return 0, &wikierr.IndexError{Op: "allocate-chunk-id/read", Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chunk_wip (chunk_id) VALUES (?)`, chunkID); err != nil {
		return 0, &wikierr.IndexError{Op: "allocate-chunk-id/insert-wip", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &wikierr.IndexError{Op: "allocate-chunk-id/commit", Err: err}
	}
	return chunkID, nil
}

// ListChunkWIP returns every chunk ID currently recorded as in-flight, for
// startup recovery.
func (ix *Index) ListChunkWIP(ctx context.Context) ([]uint64, error) {
	rows, err := ix.writer.QueryContext(ctx, `SELECT chunk_id FROM chunk_wip ORDER BY chunk_id`)
	if err != nil {
		return nil, &wikierr.IndexError{Op: "list-chunk-wip", Err: err}
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, &wikierr.IndexError{Op: "list-chunk-wip/scan", Err: err}
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DiscardChunkWIP deletes a chunk_wip row whose temp file never made it to
// disk: the "no file exists" branch of startup recovery.
func (ix *Index) DiscardChunkWIP(ctx context.Context, chunkID uint64) error {
	_, err := ix.writer.ExecContext(ctx, `DELETE FROM chunk_wip WHERE chunk_id = ?`, chunkID)
	if err != nil {
		return &wikierr.IndexError{Op: "discard-chunk-wip", Err: err}
	}
	return nil
}

// CommitChunk implements step 4 of the commit protocol: it records the
// chunk itself, upserts (insert-or-skip, idempotent on mediawiki_id) every
// page row, replaces each newly-inserted page's category_link rows, and
// clears chunk_wip — all in one transaction.
func (ix *Index) CommitChunk(ctx context.Context, chunkID uint64, path string, rows []PageRow) error {
	tx, err := ix.writer.BeginTx(ctx, nil)
	if err != nil {
		return &wikierr.IndexError{Op: "commit-chunk/begin", Err: err}
	}
	defer tx.Rollback()

	var lowID, highID uint64 = ^uint64(0), 0
	for _, r := range rows {
		if r.MediaWikiID < lowID {
			lowID = r.MediaWikiID
		}
		if r.MediaWikiID > highID {
			highID = r.MediaWikiID
		}
	}
	if len(rows) == 0 {
		lowID, highID = 0, 0
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chunk (chunk_id, path, page_count, low_page_id, high_page_id)
		 VALUES (?, ?, ?, ?, ?)`,
		chunkID, path, len(rows), lowID, highID); err != nil {
		return &wikierr.IndexError{Op: "commit-chunk/insert-chunk", Err: err}
	}

	for _, r := range rows {
		if err := ix.upsertPage(ctx, tx, chunkID, r); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunk_wip WHERE chunk_id = ?`, chunkID); err != nil {
		return &wikierr.IndexError{Op: "commit-chunk/delete-wip", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &wikierr.IndexError{Op: "commit-chunk/commit", Err: err}
	}
	return nil
}

func (ix *Index) upsertPage(ctx context.Context, tx *sql.Tx, chunkID uint64, r PageRow) error {
	var redirectTitle any
	if r.RedirectTitle != "" {
		redirectTitle = r.RedirectTitle
	}
	var parentID, tsSecs, sha0, sha1, sha2 any
	if r.HasParentID {
		parentID = r.RevisionParentID
	}
	if r.HasTimestamp {
		tsSecs = r.TimestampUnix
	}
	if r.HasSHA1 {
		// sqlite integers are signed 64-bit, and database/sql rejects a
		// uint64 with the high bit set, so the words are stored bit-for-bit
		// as int64.
		sha0, sha1, sha2 = int64(r.SHA1Word0), int64(r.SHA1Word1), r.SHA1Word2
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO page (mediawiki_id, namespace_id, title, slug, redirect_title,
		                   chunk_id, slot_index, revision_id, revision_parent_id,
		                   revision_ts_utc_secs, sha1_word0, sha1_word1, sha1_word2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mediawiki_id) DO NOTHING`,
		r.MediaWikiID, r.NamespaceID, r.Title, r.Slug, redirectTitle,
		chunkID, r.SlotIndex, r.RevisionID, parentID,
		tsSecs, sha0, sha1, sha2)
	if err != nil {
		return &wikierr.IndexError{Op: "commit-chunk/upsert-page", Err: err}
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return &wikierr.IndexError{Op: "commit-chunk/rows-affected", Err: err}
	}
	if inserted == 0 {
		// Page already present: idempotent re-import. Its category_link and
		// page_fts rows were already written the first time it committed.
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM category_link WHERE page_mediawiki_id = ?`, r.MediaWikiID); err != nil {
		return &wikierr.IndexError{Op: "commit-chunk/clear-categories", Err: err}
	}
	for _, catSlug := range r.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO category (slug) VALUES (?)`, catSlug); err != nil {
			return &wikierr.IndexError{Op: "commit-chunk/insert-category", Err: err}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO category_link (category_slug, page_mediawiki_id) VALUES (?, ?)`,
			catSlug, r.MediaWikiID); err != nil {
			return &wikierr.IndexError{Op: "commit-chunk/insert-category", Err: err}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO page_fts (title, mediawiki_id) VALUES (?, ?)`,
		r.Title, r.MediaWikiID); err != nil {
		return &wikierr.IndexError{Op: "commit-chunk/insert-fts", Err: err}
	}

	return nil
}

// LookupByID looks up a page's chunk location by numeric MediaWiki ID.
func (ix *Index) LookupByID(ctx context.Context, id uint64) (*PageLocation, error) {
	var loc PageLocation
	err := ix.reader.QueryRowContext(ctx,
		`SELECT chunk_id, slot_index FROM page WHERE mediawiki_id = ?`, id,
	).Scan(&loc.ChunkID, &loc.SlotIndex)
	if err == sql.ErrNoRows {
		return nil, wikierr.ErrNotFound
	}
	if err != nil {
		return nil, &wikierr.IndexError{Op: "lookup-by-id", Err: err}
	}
	return &loc, nil
}

// LookupBySlug returns every page whose slug matches exactly
// (case-insensitively, per the index_page_by_slug COLLATE NOCASE index).
// Titles are not globally unique, so the caller resolves ambiguity.
func (ix *Index) LookupBySlug(ctx context.Context, slug string) ([]PageLocation, error) {
	rows, err := ix.reader.QueryContext(ctx,
		`SELECT chunk_id, slot_index FROM page WHERE slug = ? COLLATE NOCASE`, slug)
	if err != nil {
		return nil, &wikierr.IndexError{Op: "lookup-by-slug", Err: err}
	}
	defer rows.Close()

	var out []PageLocation
	for rows.Next() {
		var loc PageLocation
		if err := rows.Scan(&loc.ChunkID, &loc.SlotIndex); err != nil {
			return nil, &wikierr.IndexError{Op: "lookup-by-slug/scan", Err: err}
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// ListCategory pages forward through a category's membership in
// mediawiki_id order.
func (ix *Index) ListCategory(ctx context.Context, categorySlug string, after *uint64, limit int) ([]CategoryEntry, error) {
	query := `
		SELECT page.mediawiki_id, page.title
		FROM category_link
		JOIN page ON page.mediawiki_id = category_link.page_mediawiki_id
		WHERE category_link.category_slug = ?`
	args := []any{categorySlug}
	if after != nil {
		query += ` AND page.mediawiki_id > ?`
		args = append(args, *after)
	}
	query += ` ORDER BY page.mediawiki_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := ix.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &wikierr.IndexError{Op: "list-category", Err: err}
	}
	defer rows.Close()

	var out []CategoryEntry
	for rows.Next() {
		var e CategoryEntry
		if err := rows.Scan(&e.MediaWikiID, &e.Title); err != nil {
			return nil, &wikierr.IndexError{Op: "list-category/scan", Err: err}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SearchTitlePrefix runs the FTS5 prefix/phrase match over page_fts.title.
// Falling back to a stemmed match is internal/textsearch's job, layered on
// top of this.
func (ix *Index) SearchTitlePrefix(ctx context.Context, query string, limit int) ([]CategoryEntry, error) {
	rows, err := ix.reader.QueryContext(ctx, `
		SELECT mediawiki_id, title FROM page_fts
		WHERE page_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, ftsPrefixQuery(query), limit)
	if err != nil {
		return nil, &wikierr.IndexError{Op: "search-title", Err: err}
	}
	defer rows.Close()

	var out []CategoryEntry
	for rows.Next() {
		var e CategoryEntry
		if err := rows.Scan(&e.MediaWikiID, &e.Title); err != nil {
			return nil, &wikierr.IndexError{Op: "search-title/scan", Err: err}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ftsPrefixQuery quotes query as an FTS5 phrase and appends the "*" prefix
// operator, so a literal title like "O'Brien" doesn't break the MATCH
// syntax.
func ftsPrefixQuery(query string) string {
	escaped := ""
	for _, r := range query {
		if r == '"' {
			escaped += `""`
		} else {
			escaped += string(r)
		}
	}
	return `"` + escaped + `"*`
}

// Clear truncates every table. The caller (internal/store) is responsible
// for removing chunk files afterward.
func (ix *Index) Clear(ctx context.Context) error {
	tx, err := ix.writer.BeginTx(ctx, nil)
	if err != nil {
		return &wikierr.IndexError{Op: "clear/begin", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, dropAll); err != nil {
		return &wikierr.IndexError{Op: "clear/drop", Err: err}
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return &wikierr.IndexError{Op: "clear/recreate", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &wikierr.IndexError{Op: "clear/commit", Err: err}
	}
	return nil
}
