package dump

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ListJobFiles returns the dump files directly inside dir, sorted with a
// natural (digit-run-aware) comparison so that, e.g.,
// "pages-articles1.xml-p1p41242" sorts before
// "pages-articles1.xml-p41243p151573" rather than lexicographically.
func ListJobFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("dump: read job dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}

	sort.Slice(names, func(i, j int) bool {
		return naturalLess(names[i], names[j])
	})

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// naturalLess compares two strings run-by-run: consecutive digits compare
// as numbers (so "p41243" sorts after "p1"), everything else compares
// byte-by-byte.
func naturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			ni, da := digitRun(a, i)
			nj, db := digitRun(b, j)
			if da != db {
				return da < db
			}
			i, j = ni, nj
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// digitRun returns the index just past the run of digits starting at i, and
// that run's numeric value.
func digitRun(s string, i int) (next int, value uint64) {
	start := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	for k := start; k < i; k++ {
		value = value*10 + uint64(s[k]-'0')
	}
	return i, value
}
