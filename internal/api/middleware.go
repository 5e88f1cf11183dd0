// Package api implements the gpahub REST API using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// streamTokenParam carries the token for GET /events, since browser
// EventSource clients cannot set headers.
const streamTokenParam = "access_token"

// tokenAuth guards ingest and backend routes with a shared Bearer token.
// A disabled tokenAuth lets every request through.
type tokenAuth struct {
	token   []byte
	enabled bool
}

func newTokenAuth(enabled bool, token string) tokenAuth {
	return tokenAuth{enabled: enabled, token: []byte(token)}
}

// Require accepts only an "Authorization: Bearer <token>" header.
func (a tokenAuth) Require(next http.Handler) http.Handler {
	return a.guard(next, false)
}

// RequireStream also accepts the token as the access_token query parameter.
func (a tokenAuth) RequireStream(next http.Handler) http.Handler {
	return a.guard(next, true)
}

func (a tokenAuth) guard(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		got, ok := bearerToken(r)
		if !ok && allowQuery {
			got = r.URL.Query().Get(streamTokenParam)
			ok = got != ""
		}
		switch {
		case !ok:
			unauthorized(w, "missing bearer token")
		case subtle.ConstantTimeCompare([]byte(got), a.token) != 1:
			unauthorized(w, "invalid bearer token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// bearerToken extracts the token from the Authorization header. The scheme
// is case-insensitive.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="gpahub"`)
	writeJSON(w, http.StatusUnauthorized, errorBody(msg))
}
