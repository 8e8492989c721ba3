package journal

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/neboloop/browser-agent/internal/httputil"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Routes serves GET / with optional ?kind= and ?limit= filters.
func Routes(store *Store) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		limit := httputil.QueryInt(r, "limit", defaultLimit, maxLimit)
		kind := httputil.QueryString(r, "kind", "")
		entries, err := store.Recent(r.Context(), kind, limit)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		httputil.OkJSON(w, entries)
	})
	return r
}
