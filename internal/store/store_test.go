package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fluffysquirrels/wikimedia-go/internal/importer"
	"github.com/fluffysquirrels/wikimedia-go/internal/store"
	"github.com/fluffysquirrels/wikimedia-go/internal/wikierr"
)

const sampleDump = `<mediawiki>
  <page>
    <title>Science Fiction Film</title>
    <ns>0</ns>
    <id>42</id>
    <revision>
      <id>1</id>
      <timestamp>2020-05-01T00:00:00Z</timestamp>
      <text>[[Category:Films]]</text>
    </revision>
  </page>
</mediawiki>`

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	root := t.TempDir()
	s, err := store.Open(root, "enwiki", store.Options{PagesPerChunk: 100, Parallelism: 1})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeJobDir(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pages-articles1.xml"), []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return dir
}

func TestStoreImportAndLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	report, err := s.Import(ctx, writeJobDir(t, sampleDump), importer.Options{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.PagesImported != 1 {
		t.Fatalf("PagesImported = %d, want 1", report.PagesImported)
	}

	page, err := s.GetPageByID(ctx, 42)
	if err != nil {
		t.Fatalf("GetPageByID: %v", err)
	}
	if page.Title != "Science Fiction Film" {
		t.Errorf("Title = %q, want %q", page.Title, "Science Fiction Film")
	}

	bySlug, err := s.GetPageBySlug(ctx, "science_fiction_film")
	if err != nil {
		t.Fatalf("GetPageBySlug: %v", err)
	}
	if len(bySlug) != 1 || bySlug[0].ID != 42 {
		t.Errorf("GetPageBySlug = %+v", bySlug)
	}

	cat, err := s.ListCategory(ctx, "Films", nil, 10)
	if err != nil {
		t.Fatalf("ListCategory: %v", err)
	}
	if len(cat) != 1 || cat[0].MediaWikiID != 42 {
		t.Errorf("ListCategory = %+v", cat)
	}

	results, err := s.SearchTitle(ctx, "Science", 10)
	if err != nil {
		t.Fatalf("SearchTitle: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("SearchTitle(Science) = %+v, want one match", results)
	}
}

func TestStoreClearRemovesEverything(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Import(ctx, writeJobDir(t, sampleDump), importer.Options{}); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := s.GetPageByID(ctx, 42); !errors.Is(err, wikierr.ErrNotFound) {
		t.Errorf("GetPageByID after Clear err = %v, want wikierr.ErrNotFound", err)
	}
}
