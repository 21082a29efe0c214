// Package wikitext scans raw wikitext for the handful of tokens this store
// cares about. It deliberately does not expand templates: a category added
// only via template transclusion is not indexed (see DESIGN.md).
package wikitext

import (
	"regexp"
	"sort"
)

var categoryToken = regexp.MustCompile(`\[\[Category:([^\]|]+)(?:\|[^\]]*)?\]\]`)

// ParseCategories returns the distinct category names linked from wikitext
// via a literal "[[Category:Name]]" or "[[Category:Name|sortkey]]" token, in
// sorted order. Names are returned as written (e.g. "1999 films"); callers
// normalise them into slugs with internal/slug.CategorySlug.
func ParseCategories(wikitext string) []string {
	matches := categoryToken.FindAllStringSubmatch(wikitext, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}
