// wikiimport drives one dump-directory import into a store.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluffysquirrels/wikimedia-go/internal/importer"
	"github.com/fluffysquirrels/wikimedia-go/internal/store"
)

func main() {
	root := flag.String("root", "./data", "store root directory")
	wiki := flag.String("wiki", "wiki", "wiki name, used to namespace the store under root/stores/<wiki>")
	jobDir := flag.String("job-dir", "", "directory of dump files to import")
	pagesPerChunk := flag.Int("pages-per-chunk", importer.DefaultPagesPerChunk, "pages batched per committed chunk")
	parallelism := flag.Int("parallelism", 0, "encode worker count (0 = runtime.NumCPU())")
	pageLimit := flag.Int64("page-limit", 0, "stop after approximately this many pages (0 = unlimited)")
	clear := flag.Bool("clear", false, "wipe the store before importing")
	logPath := flag.String("log-file", "wikiimport.log", "path to the log file")
	flag.Parse()

	if *jobDir == "" {
		log.Fatalf("missing required -job-dir flag")
	}

	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("failed to open log file: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	log.Printf("opening store: root=%s wiki=%s", *root, *wiki)
	s, err := store.Open(*root, *wiki, store.Options{
		PagesPerChunk: *pagesPerChunk,
		Parallelism:   *parallelism,
	})
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received interrupt, cancelling import...")
		cancel()
	}()

	log.Printf("importing from %s", *jobDir)
	report, err := s.Import(ctx, *jobDir, importer.Options{
		ApproximatePageLimit: *pageLimit,
		ClearBeforeImport:    *clear,
	})
	if err != nil {
		log.Fatalf("import failed after %d chunks / %d pages: %v", report.ChunksWritten, report.PagesImported, err)
	}

	log.Printf("import complete: %d chunks, %d pages, %d bytes read, took %s",
		report.ChunksWritten, report.PagesImported, report.BytesRead, report.Duration)
	if len(report.FailedBatches) > 0 {
		log.Printf("%d batches failed:", len(report.FailedBatches))
		for _, f := range report.FailedBatches {
			log.Printf("  %s: %s", f.File, f.Reason)
		}
	}
}
