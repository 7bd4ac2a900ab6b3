package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/prepai-go/internal/logging"
)

// authRealm is the realm advertised in WWW-Authenticate challenges.
const authRealm = `Bearer realm="prepai"`

// requireBearer wraps next with Bearer token authentication. An empty apiKey
// disables the check; New logs that once at startup.
//
// Clients send:
//
//	Authorization: Bearer <PREPAI_API_KEY>
//
// Rejections are 401 with a JSON error body and a WWW-Authenticate challenge.
// The presented token is never logged.
func requireBearer(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		switch {
		case !ok:
			reject(w, r, authRealm, "authorization required")
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			reject(w, r, authRealm+` error="invalid_token"`, "invalid token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// reject writes a 401 and logs the rejection reason.
func reject(w http.ResponseWriter, r *http.Request, challenge, reason string) {
	logging.FromContext(r.Context()).Warn("auth: request rejected",
		slog.String("path", r.URL.Path),
		slog.String("reason", reason),
	)
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: reason})
}

// bearerToken returns the token from an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive. ok is false when the header is
// absent, uses another scheme, or carries an empty token.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
