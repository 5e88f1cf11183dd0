package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/gpahub/internal/resultservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *resultservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *resultservice.Service) *Handler {
	return &Handler{svc: svc}
}

// SearchResult handles POST /api/search-result.
//
//	@Summary		Look up one student's results across stores and web APIs
//	@Tags			search
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SearchRequest	true	"Lookup key"
//	@Success		200		{object}	QueryResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/search-result [post]
func (h *Handler) SearchResult(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.search(r.Context(), w, req)
}

// Search handles GET /api/search.
//
//	@Summary		Look up one student's results by query parameters
//	@Tags			search
//	@Produce		json
//	@Param			roll		query		string	true	"Roll number"
//	@Param			regulation	query		string	true	"Regulation year"
//	@Param			program		query		string	false	"Program name"
//	@Success		200			{object}	QueryResult
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := SearchRequest{
		RollNo:     q.Get("roll"),
		Regulation: q.Get("regulation"),
		Program:    q.Get("program"),
	}
	if !validate(w, &req) {
		return
	}
	h.search(r.Context(), w, req)
}

func (h *Handler) search(ctx context.Context, w http.ResponseWriter, req SearchRequest) {
	res, err := h.svc.Search(ctx, req.RollNo, req.Regulation, req.Program)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Ingest handles POST /api/ingest.
//
//	@Summary		Parse a gradesheet and write its records to the ingest store
//	@Tags			ingest
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IngestRequest	true	"Gradesheet text"
//	@Success		200		{object}	IngestSummary
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	IngestSummary
//	@Security		BearerAuth
//	@Router			/ingest [post]
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sum, err := h.svc.IngestText(r.Context(), req.Text, req.Program, req.Regulation)
	if err != nil {
		writeError(w, "ingest", err)
		return
	}
	status := http.StatusOK
	if !sum.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, sum)
}

// Regulations handles GET /api/regulations/{program}.
//
//	@Summary		List regulation years known for a program
//	@Tags			catalog
//	@Produce		json
//	@Param			program	path		string	true	"Program name"
//	@Success		200		{object}	RegulationsResponse
//	@Router			/regulations/{program} [get]
func (h *Handler) Regulations(w http.ResponseWriter, r *http.Request) {
	program := chi.URLParam(r, "program")
	if decoded, err := url.PathUnescape(program); err == nil {
		program = decoded
	}
	program = strings.TrimSpace(program)
	regs, err := h.svc.Regulations(r.Context(), program)
	if err != nil {
		writeError(w, "regulations", err)
		return
	}
	if program == "" {
		program = h.svc.DefaultProgram()
	}
	writeJSON(w, http.StatusOK, RegulationsResponse{Program: program, Regulations: regs})
}

// Stats handles GET /api/stats.
//
//	@Summary		Record counts per store
//	@Tags			catalog
//	@Produce		json
//	@Success		200	{object}	StatsResponse
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{Stores: h.svc.Stats(r.Context())})
}

// Stores handles GET /api/stores.
//
//	@Summary		List configured stores and the search order
//	@Tags			stores
//	@Produce		json
//	@Success		200	{object}	StoresResponse
//	@Router			/stores [get]
func (h *Handler) Stores(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StoresResponse{
		Stores:      h.svc.Stores(),
		SearchOrder: h.svc.SearchOrder(),
	})
}

// TestStore handles GET /api/stores/{name}/test.
//
//	@Summary		Check the connection to one store
//	@Tags			stores
//	@Produce		json
//	@Param			name	path		string	true	"Store name"
//	@Success		200		{object}	StoreTestResponse
//	@Failure		404		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stores/{name}/test [get]
func (h *Handler) TestStore(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.TestStore(r.Context(), name); err != nil {
		writeError(w, "test store", err)
		return
	}
	writeJSON(w, http.StatusOK, StoreTestResponse{Name: name, OK: true})
}

// WebAPIs handles GET /api/web-apis.
//
//	@Summary		List web API fallbacks in priority order
//	@Tags			stores
//	@Produce		json
//	@Success		200	{object}	WebAPIsResponse
//	@Router			/web-apis [get]
func (h *Handler) WebAPIs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, WebAPIsResponse{WebAPIs: h.svc.WebAPIs()})
}
