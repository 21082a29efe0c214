// Package textsearch layers a stemming fallback on top of the index's FTS5
// title search: a literal/prefix match for "films" on page_fts's raw title
// finds only titles with a word starting "films", so a title indexed as
// "film" is missed until the query is stemmed to "film". page_fts stores
// the raw title (so a literal query still gets exact-prefix results
// first), and this package
// only falls back to a per-word stemmed re-query when the literal match
// comes up empty.
package textsearch

import (
	"context"
	"strings"

	"github.com/kljensen/snowball"

	"github.com/fluffysquirrels/wikimedia-go/internal/index"
)

// Searcher runs title search over an *index.Index.
type Searcher struct {
	ix *index.Index
}

// New wraps ix for title search.
func New(ix *index.Index) *Searcher {
	return &Searcher{ix: ix}
}

// SearchTitle tries a literal FTS5 prefix match first, and only if that
// returns nothing, retries with each query word reduced to its English stem.
func (s *Searcher) SearchTitle(ctx context.Context, query string, limit int) ([]index.CategoryEntry, error) {
	results, err := s.ix.SearchTitlePrefix(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	stemmed := stemQuery(query)
	if stemmed == "" || stemmed == strings.ToLower(query) {
		return results, nil
	}
	return s.ix.SearchTitlePrefix(ctx, stemmed, limit)
}

// stemQuery reduces every word of query to its Snowball English stem,
// falling back to the original word on any word Snowball can't stem.
func stemQuery(query string) string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return ""
	}
	stemmed := make([]string, len(words))
	for i, w := range words {
		s, err := snowball.Stem(w, "english", true)
		if err != nil || s == "" {
			s = w
		}
		stemmed[i] = s
	}
	return strings.Join(stemmed, " ")
}
