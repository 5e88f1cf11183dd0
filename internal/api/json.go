package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/gpahub/internal/apperr"
	"github.com/starford/gpahub/internal/resolver"
)

const maxBodyBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	// Fields carries per-field validation messages.
	Fields validation.Errors `json:"fields,omitempty"`
	// ProjectsSearched lists the sources tried before a lookup gave up.
	ProjectsSearched []string `json:"projects_searched,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// decodeJSON reads a size-limited JSON body into dst and validates it.
// It writes the error response itself and reports whether to continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst validation.Validatable) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return validate(w, dst)
}

func validate(w http.ResponseWriter, v validation.Validatable) bool {
	err := v.Validate()
	if err == nil {
		return true
	}
	var fields validation.Errors
	if errors.As(err, &fields) {
		writeJSON(w, http.StatusBadRequest, errResponse{Error: "invalid request", Fields: fields})
		return false
	}
	writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	return false
}

// writeError maps an application error onto an HTTP status.
func writeError(w http.ResponseWriter, op string, err error) {
	var nf *resolver.NotFoundError
	switch {
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errResponse{
			Error:            "student not found in any store or web API",
			ProjectsSearched: nf.Tried,
		})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrTimeout):
		writeJSON(w, http.StatusGatewayTimeout, errorBody("timeout"))
	case errors.Is(err, apperr.ErrExternalAPI):
		writeJSON(w, http.StatusBadGateway, errorBody("upstream error"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
