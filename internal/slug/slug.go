// Package slug normalises MediaWiki page titles into the "dbkey" form used
// as an index key: spaces become underscores, percent-escapes are decoded,
// the result is Unicode-NFC-folded, and (for most namespaces) the first
// letter of the title part is upper-cased.
package slug

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/fluffysquirrels/wikimedia-go/internal/wikipage"
)

// FromTitle converts a page title into its slug, following MediaWiki's
// dbkey convention for the namespace the title belongs to.
//
// Title is expected in its human-readable form, e.g. "Science fiction film"
// or "Category:1999 films", not already percent-escaped or underscored.
func FromTitle(title string) string {
	ns, rest, hasPrefix := splitPrefix(title)

	rest = decodePercent(rest)
	rest = norm.NFC.String(rest)
	rest = strings.ReplaceAll(rest, " ", "_")

	if ns.Case == wikipage.CaseFirstLetter {
		rest = upperFirst(rest)
	}

	if !hasPrefix {
		return rest
	}

	prefix := strings.ReplaceAll(ns.Name, " ", "_")
	return prefix + ":" + rest
}

// FromNamespacedTitle is like FromTitle but takes the namespace explicitly
// (as parsed from the dump's <ns> element) instead of re-deriving it from a
// "Prefix:" string, since dump records carry ns_id directly.
func FromNamespacedTitle(ns wikipage.Namespace, title string) string {
	rest := decodePercent(title)
	rest = norm.NFC.String(rest)
	rest = strings.ReplaceAll(rest, " ", "_")

	if ns.Case == wikipage.CaseFirstLetter {
		rest = upperFirst(rest)
	}

	if ns.Name == "" {
		return rest
	}

	prefix := strings.ReplaceAll(ns.Name, " ", "_")
	return prefix + ":" + rest
}

// CategorySlug normalises a bare category name (as captured from a
// "[[Category:Name]]" token, i.e. without the "Category:" prefix) using the
// Category namespace's case rule. The result carries no "Category:" prefix.
func CategorySlug(name string) string {
	rest := decodePercent(strings.TrimSpace(name))
	rest = norm.NFC.String(rest)
	rest = strings.ReplaceAll(rest, " ", "_")

	if wikipage.NSCategory.Case == wikipage.CaseFirstLetter {
		rest = upperFirst(rest)
	}
	return rest
}

func splitPrefix(title string) (wikipage.Namespace, string, bool) {
	if i := strings.IndexByte(title, ':'); i > 0 {
		prefix := title[:i]
		ns := wikipage.FromPrefix(prefix)
		if ns.Name == prefix {
			return ns, title[i+1:], true
		}
	}
	return wikipage.NSMain, title, false
}

func decodePercent(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	upper := unicode.ToUpper(r)
	if upper == r {
		return s
	}
	return string(upper) + s[size:]
}
