package importer_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fluffysquirrels/wikimedia-go/internal/chunkcodec"
	"github.com/fluffysquirrels/wikimedia-go/internal/chunkstore"
	"github.com/fluffysquirrels/wikimedia-go/internal/importer"
	"github.com/fluffysquirrels/wikimedia-go/internal/index"
	"github.com/fluffysquirrels/wikimedia-go/internal/wikipage"
)

const matrixDump = `<mediawiki>
  <page>
    <title>The Matrix</title>
    <ns>0</ns>
    <id>30007</id>
    <revision>
      <id>1</id>
      <timestamp>2023-01-02T03:04:05Z</timestamp>
      <sha1>15evnyti0jf5hy4gas6qdor1f5h27dm</sha1>
      <text>[[Category:1999 films]] [[Category:Science fiction films]]</text>
    </revision>
  </page>
  <page>
    <title>Neo (The Matrix)</title>
    <ns>0</ns>
    <id>30008</id>
    <redirect title="The Matrix" />
    <revision>
      <id>2</id>
      <timestamp>2023-01-02T03:04:06Z</timestamp>
      <text>#REDIRECT [[The Matrix]]</text>
    </revision>
  </page>
</mediawiki>`

func writeDumpFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func openTestStore(t *testing.T) (*chunkstore.Store, *index.Index) {
	t.Helper()
	root := t.TempDir()
	chunks, err := chunkstore.Open(root)
	if err != nil {
		t.Fatalf("chunkstore.Open: %v", err)
	}
	idx, err := index.Open(filepath.Join(root, "index"))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return chunks, idx
}

func TestRunImportsSmallDump(t *testing.T) {
	jobDir := t.TempDir()
	writeDumpFile(t, jobDir, "pages-articles1.xml", matrixDump)

	chunks, idx := openTestStore(t)
	im := importer.New(chunks, idx, importer.Options{JobDir: jobDir, PagesPerChunk: 200, Parallelism: 1})

	report, err := im.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.PagesImported != 2 {
		t.Errorf("PagesImported = %d, want 2", report.PagesImported)
	}
	if report.ChunksWritten != 1 {
		t.Errorf("ChunksWritten = %d, want 1", report.ChunksWritten)
	}
	if len(report.FailedBatches) != 0 {
		t.Errorf("FailedBatches = %+v, want none", report.FailedBatches)
	}

	loc, err := idx.LookupByID(context.Background(), 30007)
	if err != nil {
		t.Fatalf("LookupByID: %v", err)
	}

	mapped, err := chunks.Map(loc.ChunkID)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer mapped.Close()

	pv, err := mapped.View().Page(loc.SlotIndex)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if pv.Title() != "The Matrix" {
		t.Errorf("Title() = %q, want %q", pv.Title(), "The Matrix")
	}

	cats, err := idx.ListCategory(context.Background(), "1999_films", nil, 10)
	if err != nil {
		t.Fatalf("ListCategory: %v", err)
	}
	if len(cats) != 1 || cats[0].MediaWikiID != 30007 {
		t.Errorf("ListCategory(1999_films) = %+v", cats)
	}

	redirectLoc, err := idx.LookupByID(context.Background(), 30008)
	if err != nil {
		t.Fatalf("LookupByID(redirect): %v", err)
	}
	redirectMapped, err := chunks.Map(redirectLoc.ChunkID)
	if err != nil {
		t.Fatalf("Map(redirect): %v", err)
	}
	defer redirectMapped.Close()
	redirectPV, err := redirectMapped.View().Page(redirectLoc.SlotIndex)
	if err != nil {
		t.Fatalf("Page(redirect): %v", err)
	}
	if !redirectPV.HasRedirect() || redirectPV.Redirect() != "The Matrix" {
		t.Errorf("redirect page: HasRedirect=%v Redirect=%q", redirectPV.HasRedirect(), redirectPV.Redirect())
	}
}

func TestRunIsIdempotentAcrossTwoRuns(t *testing.T) {
	jobDir := t.TempDir()
	writeDumpFile(t, jobDir, "pages-articles1.xml", matrixDump)

	chunks, idx := openTestStore(t)
	im := importer.New(chunks, idx, importer.Options{JobDir: jobDir, Parallelism: 1})

	if _, err := im.Run(context.Background()); err != nil {
		t.Fatalf("Run #1: %v", err)
	}
	report2, err := im.Run(context.Background())
	if err != nil {
		t.Fatalf("Run #2: %v", err)
	}
	if report2.PagesImported != 2 {
		t.Errorf("Run #2 PagesImported = %d, want 2 (re-parsed but skipped on conflict)", report2.PagesImported)
	}

	cats, err := idx.ListCategory(context.Background(), "1999_films", nil, 10)
	if err != nil {
		t.Fatalf("ListCategory: %v", err)
	}
	if len(cats) != 1 {
		t.Errorf("ListCategory after reimport = %+v, want exactly one entry (no duplicate category_link rows)", cats)
	}
}

func TestRunHonoursApproximatePageLimit(t *testing.T) {
	jobDir := t.TempDir()
	var buf bytes.Buffer
	buf.WriteString("<mediawiki>\n")
	for i := 1; i <= 10; i++ {
		buf.WriteString(`<page><title>Page ` + itoa(i) + `</title><ns>0</ns><id>` + itoa(i) + `</id>` +
			`<revision><id>` + itoa(i) + `</id><timestamp>2023-01-01T00:00:00Z</timestamp><text>x</text></revision></page>` + "\n")
	}
	buf.WriteString("</mediawiki>")
	writeDumpFile(t, jobDir, "pages-articles1.xml", buf.String())

	chunks, idx := openTestStore(t)
	im := importer.New(chunks, idx, importer.Options{JobDir: jobDir, PagesPerChunk: 3, Parallelism: 1, ApproximatePageLimit: 5})

	report, err := im.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.PagesImported < 3 || report.PagesImported > 6 {
		t.Errorf("PagesImported = %d, want an early stop near the 5-page limit at a batch boundary", report.PagesImported)
	}
}

func TestRecoverFinishesAPublishedButUncommittedChunk(t *testing.T) {
	chunks, idx := openTestStore(t)
	ctx := context.Background()

	if err := chunks.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	page := &wikipage.Page{
		ID:    1,
		NsID:  0,
		Title: "Orphan",
		Revision: &wikipage.Revision{
			ID:      1,
			HasTime: true,
			Text:    "[[Category:Orphans]]",
		},
	}
	page.SetCategories(nil) // force the recovery path to re-derive categories from wikitext

	chunkID, err := idx.AllocateChunkID(ctx)
	if err != nil {
		t.Fatalf("AllocateChunkID: %v", err)
	}

	frame := encode(page)
	tempPath, err := chunks.StageWrite(frame)
	if err != nil {
		t.Fatalf("StageWrite: %v", err)
	}
	if _, err := chunks.Publish(tempPath, chunkID); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// Deliberately never call idx.CommitChunk, simulating a crash between
	// Publish and the index transaction that would have recorded it.
	if err := chunks.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	wip, err := idx.ListChunkWIP(ctx)
	if err != nil || len(wip) != 1 {
		t.Fatalf("ListChunkWIP = %v, %v, want exactly one in-flight chunk", wip, err)
	}

	im := importer.New(chunks, idx, importer.Options{JobDir: t.TempDir(), Parallelism: 1})
	if _, err := im.Run(ctx); err != nil {
		t.Fatalf("Run (recovery): %v", err)
	}

	loc, err := idx.LookupByID(ctx, 1)
	if err != nil {
		t.Fatalf("LookupByID after recovery: %v", err)
	}
	if loc.ChunkID != chunkID {
		t.Errorf("loc.ChunkID = %d, want %d", loc.ChunkID, chunkID)
	}

	cats, err := idx.ListCategory(ctx, "Orphans", nil, 10)
	if err != nil {
		t.Fatalf("ListCategory: %v", err)
	}
	if len(cats) != 1 {
		t.Errorf("ListCategory(Orphans) = %+v, want the category re-derived from wikitext during recovery", cats)
	}
}

func TestRunSurvivesCancelledContext(t *testing.T) {
	jobDir := t.TempDir()
	writeDumpFile(t, jobDir, "pages-articles1.xml", matrixDump)

	chunks, idx := openTestStore(t)
	im := importer.New(chunks, idx, importer.Options{JobDir: jobDir, Parallelism: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := im.Run(ctx); err == nil {
		t.Fatalf("Run with a pre-cancelled context returned nil error, want a cancellation error")
	} else if !errors.Is(err, context.Canceled) && !isCancelledErr(err) {
		t.Fatalf("Run err = %v, want a cancellation error", err)
	}
}

func isCancelledErr(err error) bool {
	return err != nil && err.Error() == "cancelled"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

// encode builds a minimal one-page chunk frame without depending on the
// importer's internal encodeBatch, exercising chunkcodec directly.
func encode(p *wikipage.Page) []byte {
	return chunkcodec.Encode([]*wikipage.Page{p})
}
