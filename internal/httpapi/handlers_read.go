package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jukasdrj/alexandria/internal/model"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// normalizeSearchISBN applies spec.md §6's search normalization: strip
// non-alphanumerics, upper-case. This is deliberately looser than
// internal/isbn.Normalize's checksum validation — a search query may be a
// partial/garbled string, and the store lookup itself is the arbiter of a
// match. An ISBN-10 query is looked up as given; it is not converted to
// ISBN-13 here.
func normalizeSearchISBN(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

func parsePaging(r *http.Request) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// handleSearch implements GET /api/search?{isbn|title|author,limit,offset}.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	q := r.URL.Query()
	limit, offset := parsePaging(r)

	switch {
	case q.Get("isbn") != "":
		isbn13 := normalizeSearchISBN(q.Get("isbn"))
		edition, found, err := s.store.GetEditionByISBN(ctx, isbn13)
		if err != nil {
			writeErr(w, r, start, errStorageError, err.Error())
			return
		}
		if !found {
			writeData(w, r, start, http.StatusOK, map[string]any{"results": []model.Edition{}})
			return
		}
		writeData(w, r, start, http.StatusOK, map[string]any{"results": []model.Edition{edition}})
	case q.Get("title") != "":
		works, err := s.store.SearchWorksByTitle(ctx, q.Get("title"), limit, offset)
		if err != nil {
			writeErr(w, r, start, errStorageError, err.Error())
			return
		}
		writeData(w, r, start, http.StatusOK, map[string]any{"results": works})
	case q.Get("author") != "":
		works, err := s.store.SearchWorksByAuthor(ctx, q.Get("author"), limit, offset)
		if err != nil {
			writeErr(w, r, start, errStorageError, err.Error())
			return
		}
		writeData(w, r, start, http.StatusOK, map[string]any{"results": works})
	default:
		writeErr(w, r, start, errMissingParameter, "one of isbn, title, or author is required")
	}
}

// handleStats implements GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	st, err := s.store.Stats(r.Context())
	if err != nil {
		writeErr(w, r, start, errStorageError, err.Error())
		return
	}
	writeData(w, r, start, http.StatusOK, st)
}

// handleQuotaStatus implements GET /api/quota/status, with a short client
// cache per spec.md §6 ("~60 s").
func (s *Server) handleQuotaStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeData(w, r, start, http.StatusOK, s.quota.Status(r.Context()))
}

// handleExternalIDs implements GET /api/external-ids/:entity_type/:key.
func (s *Server) handleExternalIDs(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	entityType := model.EntityType(chi.URLParam(r, "entityType"))
	key := chi.URLParam(r, "key")
	switch entityType {
	case model.EntityWork, model.EntityEdition, model.EntityAuthor:
	default:
		writeErr(w, r, start, errMissingParameter, "entity_type must be one of work, edition, author")
		return
	}
	rows, err := s.store.ExternalIDsFor(r.Context(), entityType, key)
	if err != nil {
		writeErr(w, r, start, errStorageError, err.Error())
		return
	}
	if len(rows) == 0 {
		writeErr(w, r, start, errNotFound, nil)
		return
	}
	writeData(w, r, start, http.StatusOK, map[string]any{"mappings": rows})
}

// handleResolve implements GET /api/resolve/:provider/:id.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	provider := chi.URLParam(r, "provider")
	id := chi.URLParam(r, "id")
	rows, err := s.store.ResolveByProvider(r.Context(), provider, id)
	if err != nil {
		writeErr(w, r, start, errStorageError, err.Error())
		return
	}
	if len(rows) == 0 {
		writeErr(w, r, start, errNotFound, nil)
		return
	}
	writeData(w, r, start, http.StatusOK, map[string]any{"mappings": rows})
}
