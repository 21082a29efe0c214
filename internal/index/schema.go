package index

// schema is executed once against a fresh index.db, and again (idempotently,
// via IF NOT EXISTS) every time an existing one is opened. page_by_slug is
// realised as an index on page.slug rather than a separate table (see
// DESIGN.md's Open Question decisions).
const schema = `
CREATE TABLE IF NOT EXISTS counter (
    name  TEXT PRIMARY KEY,
    value INTEGER NOT NULL
) STRICT;
INSERT OR IGNORE INTO counter (name, value) VALUES ('chunk_id', 0);

CREATE TABLE IF NOT EXISTS chunk (
    chunk_id     INTEGER PRIMARY KEY,
    path         TEXT NOT NULL,
    page_count   INTEGER NOT NULL,
    low_page_id  INTEGER NOT NULL,
    high_page_id INTEGER NOT NULL
) STRICT;

CREATE TABLE IF NOT EXISTS chunk_wip (
    chunk_id INTEGER PRIMARY KEY
) STRICT;

CREATE TABLE IF NOT EXISTS page (
    mediawiki_id         INTEGER PRIMARY KEY,
    namespace_id         INTEGER NOT NULL,
    title                TEXT NOT NULL,
    slug                 TEXT NOT NULL,
    redirect_title       TEXT,
    chunk_id             INTEGER NOT NULL,
    slot_index           INTEGER NOT NULL,
    revision_id          INTEGER NOT NULL,
    revision_parent_id   INTEGER,
    revision_ts_utc_secs INTEGER,
    sha1_word0           INTEGER,
    sha1_word1           INTEGER,
    sha1_word2           INTEGER
) STRICT;
CREATE INDEX IF NOT EXISTS index_page_by_slug ON page(slug COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS index_page_by_chunk ON page(chunk_id);

CREATE VIRTUAL TABLE IF NOT EXISTS page_fts USING fts5(
    title,
    mediawiki_id UNINDEXED,
    prefix = 2,
    prefix = 3
);

CREATE TABLE IF NOT EXISTS category (
    slug TEXT PRIMARY KEY
) STRICT, WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS category_link (
    category_slug     TEXT NOT NULL,
    page_mediawiki_id INTEGER NOT NULL,
    PRIMARY KEY (category_slug, page_mediawiki_id)
) STRICT, WITHOUT ROWID;
CREATE UNIQUE INDEX IF NOT EXISTS index_category_link_by_slug
    ON category_link(category_slug ASC, page_mediawiki_id ASC);
`

const dropAll = `
DROP TABLE IF EXISTS category_link;
DROP TABLE IF EXISTS category;
DROP TABLE IF EXISTS page_fts;
DROP TABLE IF EXISTS page;
DROP TABLE IF EXISTS chunk_wip;
DROP TABLE IF EXISTS chunk;
DROP TABLE IF EXISTS counter;
`
