// wikiserve exposes a store's read operations over HTTP.
package main

import (
	"flag"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/fluffysquirrels/wikimedia-go/internal/httpapi"
	"github.com/fluffysquirrels/wikimedia-go/internal/store"
)

func main() {
	root := flag.String("root", "./data", "store root directory")
	wiki := flag.String("wiki", "wiki", "wiki name, used to namespace the store under root/stores/<wiki>")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	logPath := flag.String("log-file", "wikiserve.log", "path to the log file")
	flag.Parse()

	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("failed to open log file: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	log.Printf("opening store: root=%s wiki=%s", *root, *wiki)
	s, err := store.Open(*root, *wiki, store.Options{})
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	log.Printf("listening on %s", *addr)
	if err := http.ListenAndServe(*addr, httpapi.NewRouter(s)); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
