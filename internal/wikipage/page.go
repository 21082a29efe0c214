// Package wikipage holds the page/revision data model shared by every layer
// of the store: the dump reader, the chunk codec, the index, and the query
// API.
package wikipage

import "time"

// Page is a single MediaWiki page with its current revision.
type Page struct {
	ID        uint64
	NsID      int32
	Title     string
	Redirect  string // target title; empty if this page isn't a redirect
	Revision  *Revision
}

// Revision is the current revision of a page.
type Revision struct {
	ID        uint64
	ParentID  uint64 // 0 if absent
	HasParent bool
	Timestamp time.Time // zero value if absent
	HasTime   bool
	Text      string
	SHA1      SHA1
	HasSHA1   bool

	categories []string
}

// SHA1 is a 160-bit hash stored as three big-endian words (8+8+4 bytes)
// rather than a 20-byte array, matching the chunk record's fixed-width field
// layout.
type SHA1 struct {
	Word0 uint64
	Word1 uint64
	Word2 uint32
}

// Categories returns the category names discovered in this revision's
// wikitext the last time it was scanned. It is populated by the import
// pipeline, not by the dump reader.
func (p *Page) Categories() []string {
	if p.Revision == nil {
		return nil
	}
	return p.Revision.categories
}

// SetCategories is used by the category scanner to attach discovered
// category edges to a page without re-exporting a mutable field.
func (p *Page) SetCategories(cats []string) {
	if p.Revision == nil {
		return
	}
	p.Revision.categories = cats
}
