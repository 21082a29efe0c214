// Package httpapi is a thin JSON query surface over internal/store, for ops
// and debugging: point lookups, category listings, and title search. It is
// not a wikitext-to-HTML renderer — every response here is raw JSON of the
// store's own data model.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fluffysquirrels/wikimedia-go/internal/store"
	"github.com/fluffysquirrels/wikimedia-go/internal/wikierr"
)

const defaultSearchLimit = 20
const maxSearchLimit = 200

// NewRouter builds the chi.Router exposing s's read operations:
//
//	GET /pages/{id}                a page by numeric MediaWiki ID
//	GET /pages/by-slug/{slug}      every page whose slug matches
//	GET /categories/{slug}/pages   a category's membership, paged with ?after=&limit=
//	GET /search?q=&limit=          title search
func NewRouter(s *store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/pages/{id}", getPageByID(s))
	r.Get("/pages/by-slug/{slug}", getPageBySlug(s))
	r.Get("/categories/{slug}/pages", listCategory(s))
	r.Get("/search", searchTitle(s))

	return r
}

func getPageByID(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid page id")
			return
		}

		page, err := s.GetPageByID(r.Context(), id)
		if handleLookupError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func getPageBySlug(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")

		pages, err := s.GetPageBySlug(r.Context(), slug)
		if handleLookupError(w, err) {
			return
		}
		if len(pages) == 0 {
			writeError(w, http.StatusNotFound, "no page with that slug")
			return
		}
		writeJSON(w, http.StatusOK, pages)
	}
}

func listCategory(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")

		var after *uint64
		if v := r.URL.Query().Get("after"); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid after cursor")
				return
			}
			after = &n
		}

		limit := parseLimit(r, defaultSearchLimit, maxSearchLimit)

		entries, err := s.ListCategory(r.Context(), slug, after, limit)
		if handleLookupError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func searchTitle(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			writeError(w, http.StatusBadRequest, "missing q parameter")
			return
		}

		limit := parseLimit(r, defaultSearchLimit, maxSearchLimit)

		results, err := s.SearchTitle(r.Context(), query, limit)
		if handleLookupError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func parseLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// handleLookupError writes the appropriate response for a store error and
// reports whether it wrote one (i.e. whether the caller should stop).
func handleLookupError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, wikierr.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return true
	}
	log.Printf("httpapi: lookup failed: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}
