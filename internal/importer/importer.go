// Package importer drives the dump reader into the chunk store and index
// under a crash-safe commit protocol: a single producer goroutine parses the
// dump files into batches, a bounded pool of goroutines encode and
// category-scan those batches in parallel, and a single serial stage
// commits each batch — allocate a chunk ID, publish the chunk file, then
// record it in the index — exactly one batch at a time.
//
// The pipeline is a sync.WaitGroup of goroutines feeding a shared,
// channel-based sink, the same worker-pool shape as a network crawler's
// fetch pool (see DESIGN.md).
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluffysquirrels/wikimedia-go/internal/chunkcodec"
	"github.com/fluffysquirrels/wikimedia-go/internal/chunkstore"
	"github.com/fluffysquirrels/wikimedia-go/internal/dump"
	"github.com/fluffysquirrels/wikimedia-go/internal/index"
	"github.com/fluffysquirrels/wikimedia-go/internal/slug"
	"github.com/fluffysquirrels/wikimedia-go/internal/wikierr"
	"github.com/fluffysquirrels/wikimedia-go/internal/wikipage"
	"github.com/fluffysquirrels/wikimedia-go/internal/wikitext"
)

// DefaultPagesPerChunk is the default batch size.
const DefaultPagesPerChunk = 200

const maxCommitRetries = 3

// Options configures one Run via an explicit struct rather than ambient
// globals.
type Options struct {
	// JobDir is a directory of dump files to import, read in
	// version-sorted order.
	JobDir string
	// PagesPerChunk batches this many pages per chunk. Defaults to
	// DefaultPagesPerChunk if zero.
	PagesPerChunk int
	// Parallelism bounds the worker pool. Defaults to runtime.NumCPU()
	// if zero.
	Parallelism int
	// ApproximatePageLimit stops the import at the first batch boundary
	// past this many pages, spanning all job files. Zero means
	// unlimited.
	ApproximatePageLimit int64
	// ClearBeforeImport wipes the store before importing.
	ClearBeforeImport bool
}

// BatchFailure names one batch that could not be committed, part of the
// structured report a failed import returns.
type BatchFailure struct {
	File   string
	Reason string
}

// Report summarises one Run.
type Report struct {
	ChunksWritten uint64
	PagesImported uint64
	BytesRead     int64
	Duration      time.Duration
	FailedBatches []BatchFailure
}

// Importer drives one store's import pipeline.
type Importer struct {
	chunks *chunkstore.Store
	idx    *index.Index
	opts   Options
}

// New builds an Importer over an already-open chunk store and index.
func New(chunks *chunkstore.Store, idx *index.Index, opts Options) *Importer {
	if opts.PagesPerChunk <= 0 {
		opts.PagesPerChunk = DefaultPagesPerChunk
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	return &Importer{chunks: chunks, idx: idx, opts: opts}
}

type rawBatch struct {
	pages      []*wikipage.Page
	sourceFile string
}

type encodedBatch struct {
	frame      []byte
	rows       []index.PageRow
	pageCount  int
	sourceFile string
}

// Run executes one import: recovery of any in-flight chunks from a prior
// crashed run, then the full pipeline over opts.JobDir. It honours ctx
// cancellation at batch boundaries.
func (im *Importer) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}

	if im.opts.ClearBeforeImport {
		if err := im.clear(ctx); err != nil {
			return report, err
		}
	}

	if err := im.chunks.Lock(); err != nil {
		return report, err
	}
	defer im.chunks.Unlock()

	if err := im.chunks.RemoveTempDir(); err != nil {
		return report, err
	}
	if err := im.recover(ctx); err != nil {
		return report, err
	}

	files, err := dump.ListJobFiles(im.opts.JobDir)
	if err != nil {
		return report, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rawCh := make(chan rawBatch, im.opts.Parallelism*2)
	encodedCh := make(chan encodedBatch, im.opts.Parallelism*2)

	var bytesRead, pagesEmitted int64
	producerErrCh := make(chan error, 1)
	go func() {
		defer close(rawCh)
		producerErrCh <- im.produce(runCtx, files, rawCh, &bytesRead, &pagesEmitted)
	}()

	var wg sync.WaitGroup
	for i := 0; i < im.opts.Parallelism; i++ {
		wg.Add(1)
		go im.encodeWorker(runCtx, rawCh, encodedCh, &wg)
	}
	go func() {
		wg.Wait()
		close(encodedCh)
	}()

	var committerErr error
	lastProgress := time.Now()
	for eb := range encodedCh {
		if runCtx.Err() != nil {
			break
		}
		if err := im.commitWithRetry(runCtx, eb); err != nil {
			report.FailedBatches = append(report.FailedBatches,
				BatchFailure{File: eb.sourceFile, Reason: err.Error()})
			committerErr = err
			cancel()
			break
		}
		report.ChunksWritten++
		report.PagesImported += uint64(eb.pageCount)

		if time.Since(lastProgress) >= 2*time.Second {
			log.Printf("import: %d chunks, %d pages committed", report.ChunksWritten, report.PagesImported)
			lastProgress = time.Now()
		}
	}
	for range encodedCh {
		// Drain anything already buffered so the producer/workers, which
		// select on runCtx.Done(), can exit instead of blocking on a send.
	}

	if err := <-producerErrCh; err != nil && committerErr == nil && !errors.Is(err, wikierr.ErrCancelled) {
		committerErr = err
	}

	report.BytesRead = atomic.LoadInt64(&bytesRead)
	report.Duration = time.Since(start)

	if committerErr != nil {
		return report, committerErr
	}
	if ctx.Err() != nil {
		return report, wikierr.ErrCancelled
	}

	log.Printf("import done: %d chunks, %d pages, %s", report.ChunksWritten, report.PagesImported, report.Duration)
	return report, nil
}

// produce reads job files in order, partitioning pages into
// opts.PagesPerChunk batches. A fatal parse error aborts the whole
// pipeline.
func (im *Importer) produce(ctx context.Context, files []string, out chan<- rawBatch, bytesRead, pagesEmitted *int64) error {
	for _, path := range files {
		if ctx.Err() != nil {
			return wikierr.ErrCancelled
		}

		if err := im.produceFile(ctx, path, out, bytesRead, pagesEmitted); err != nil {
			return err
		}
		if im.opts.ApproximatePageLimit > 0 && atomic.LoadInt64(pagesEmitted) >= im.opts.ApproximatePageLimit {
			return nil
		}
	}
	return nil
}

func (im *Importer) produceFile(ctx context.Context, path string, out chan<- rawBatch, bytesRead, pagesEmitted *int64) error {
	r, err := dump.Open(path, dump.CompressionAuto, 0)
	if err != nil {
		return err
	}
	defer func() {
		atomic.AddInt64(bytesRead, r.BytesRead())
		r.Close()
	}()

	var current []*wikipage.Page
	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		select {
		case out <- rawBatch{pages: current, sourceFile: path}:
			atomic.AddInt64(pagesEmitted, int64(len(current)))
			current = nil
			return nil
		case <-ctx.Done():
			return wikierr.ErrCancelled
		}
	}

	for {
		page, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("importer: reading %s: %w", path, err)
		}

		current = append(current, page)
		if len(current) >= im.opts.PagesPerChunk {
			if err := flush(); err != nil {
				return err
			}
		}
		if im.opts.ApproximatePageLimit > 0 && atomic.LoadInt64(pagesEmitted) >= im.opts.ApproximatePageLimit {
			return nil
		}
	}
	return flush()
}

// encodeWorker is one of opts.Parallelism CPU-bound stages: it encodes a
// batch's chunk frame and scans each page's wikitext for category edges
// (step 3).
func (im *Importer) encodeWorker(ctx context.Context, in <-chan rawBatch, out chan<- encodedBatch, wg *sync.WaitGroup) {
	defer wg.Done()
	for b := range in {
		eb := im.encodeBatch(b)
		select {
		case out <- eb:
		case <-ctx.Done():
			return
		}
	}
}

func (im *Importer) encodeBatch(b rawBatch) encodedBatch {
	frame := chunkcodec.Encode(b.pages)
	rows := make([]index.PageRow, len(b.pages))
	for i, p := range b.pages {
		if p.Revision != nil && p.Categories() == nil {
			p.SetCategories(wikitext.ParseCategories(p.Revision.Text))
		}
		rows[i] = rowFromPage(p, uint32(i))
	}
	return encodedBatch{frame: frame, rows: rows, pageCount: len(b.pages), sourceFile: b.sourceFile}
}

// rowFromPage builds the index.PageRow for one page. If p's categories
// haven't already been scanned (the recovery path re-decodes pages from a
// chunk file, which never carries them), it parses them from the revision
// text now: re-parsing the same wikitext always yields the same category
// edges, so this is safe even on a re-commit.
func rowFromPage(p *wikipage.Page, slot uint32) index.PageRow {
	ns := wikipage.FromKey(p.NsID)
	row := index.PageRow{
		MediaWikiID:   p.ID,
		NamespaceID:   p.NsID,
		Title:         p.Title,
		Slug:          slug.FromNamespacedTitle(ns, p.Title),
		RedirectTitle: p.Redirect,
		SlotIndex:     slot,
	}
	if p.Revision == nil {
		return row
	}

	row.RevisionID = p.Revision.ID
	if p.Revision.HasParent {
		row.HasParentID, row.RevisionParentID = true, p.Revision.ParentID
	}
	if p.Revision.HasTime {
		row.HasTimestamp, row.TimestampUnix = true, p.Revision.Timestamp.Unix()
	}
	if p.Revision.HasSHA1 {
		row.HasSHA1 = true
		row.SHA1Word0, row.SHA1Word1, row.SHA1Word2 =
			p.Revision.SHA1.Word0, p.Revision.SHA1.Word1, p.Revision.SHA1.Word2
	}

	names := p.Categories()
	if names == nil {
		names = wikitext.ParseCategories(p.Revision.Text)
	}
	if len(names) > 0 {
		row.Categories = make([]string, len(names))
		for i, n := range names {
			row.Categories[i] = slug.CategorySlug(n)
		}
	}
	return row
}

// commitWithRetry retries a transient I/O failure a bounded number of
// times before giving up.
func (im *Importer) commitWithRetry(ctx context.Context, eb encodedBatch) error {
	var lastErr error
	for attempt := 1; attempt <= maxCommitRetries; attempt++ {
		if err := im.commitOne(ctx, eb); err != nil {
			lastErr = err
			log.Printf("importer: commit attempt %d/%d for a batch from %s failed: %v",
				attempt, maxCommitRetries, eb.sourceFile, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("importer: commit failed after %d attempts: %w", maxCommitRetries, lastErr)
}

// commitOne runs the four-step commit protocol for a single batch:
// allocate a chunk ID, stage the chunk file, publish it, then record it in
// the index. If the index transaction fails after the chunk file was
// already published, the chunk_wip row from the allocation step is left in
// place; the next Run's recover() finishes the commit idempotently.
func (im *Importer) commitOne(ctx context.Context, eb encodedBatch) error {
	chunkID, err := im.idx.AllocateChunkID(ctx)
	if err != nil {
		return err
	}

	tempPath, err := im.chunks.StageWrite(eb.frame)
	if err != nil {
		return err
	}

	finalPath, err := im.chunks.Publish(tempPath, chunkID)
	if err != nil {
		im.chunks.DiscardTemp(tempPath)
		return err
	}

	return im.idx.CommitChunk(ctx, chunkID, finalPath, eb.rows)
}

// recover runs startup recovery: for each in-flight chunk, either finish
// its commit (if the file made it to disk) or discard the abandoned
// attempt.
func (im *Importer) recover(ctx context.Context) error {
	wip, err := im.idx.ListChunkWIP(ctx)
	if err != nil {
		return err
	}

	for _, chunkID := range wip {
		if im.chunks.Exists(chunkID) {
			if err := im.finishRecoveredChunk(ctx, chunkID); err != nil {
				return fmt.Errorf("importer: recovering chunk %d: %w", chunkID, err)
			}
			continue
		}
		if err := im.idx.DiscardChunkWIP(ctx, chunkID); err != nil {
			return fmt.Errorf("importer: discarding chunk_wip %d: %w", chunkID, err)
		}
	}
	return nil
}

func (im *Importer) finishRecoveredChunk(ctx context.Context, chunkID uint64) error {
	mapped, err := im.chunks.Map(chunkID)
	if err != nil {
		return err
	}
	defer mapped.Close()

	view := mapped.View()
	pages := view.Pages()
	rows := make([]index.PageRow, len(pages))
	for i, pv := range pages {
		rows[i] = rowFromPage(pv.ToPage(), uint32(i))
	}

	return im.idx.CommitChunk(ctx, chunkID, im.chunks.ChunkPath(chunkID), rows)
}

func (im *Importer) clear(ctx context.Context) error {
	if err := im.idx.Clear(ctx); err != nil {
		return err
	}
	return im.chunks.ClearAll()
}
