package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/gpahub/internal/inbox"
	"github.com/starford/gpahub/internal/resultservice"
)

// NewRouter creates a chi router with all API routes mounted.
// Lookups and listings are public; routes that write or probe backends
// sit behind Bearer token auth when authEnabled is set.
// sseHandler, if non-nil, is mounted at GET /events; it also takes the
// token from the access_token query parameter.
// in, if non-nil, enables the inbox upload routes.
func NewRouter(svc *resultservice.Service, authEnabled bool, token string, sseHandler http.Handler, in *inbox.Inbox) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()

	// Search.
	r.Get("/search", h.Search)
	r.Post("/search-result", h.SearchResult)

	// Catalog.
	r.Get("/regulations/{program}", h.Regulations)
	r.Get("/stats", h.Stats)
	r.Get("/stores", h.Stores)
	r.Get("/web-apis", h.WebAPIs)

	auth := newTokenAuth(authEnabled, token)
	r.Group(func(r chi.Router) {
		r.Use(auth.Require)

		r.Post("/ingest", h.Ingest)
		r.Get("/stores/{name}/test", h.TestStore)

		if in != nil {
			ih := NewInboxHandler(in)
			r.Get("/inbox", ih.List)
			r.Post("/inbox", ih.Upload)
		}
	})

	if sseHandler != nil {
		r.With(auth.RequireStream).Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
