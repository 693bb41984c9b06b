package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthOptions relaxes Auth for some requests.
type AuthOptions struct {
	// PublicPrefixes are path prefixes that never need the key.
	PublicPrefixes []string
	// OpenReads lets GET and HEAD requests through.
	OpenReads bool
}

// Auth returns middleware that requires the API key as a Bearer token or
// in X-API-Key. Everything passes when apiKey is empty.
func Auth(apiKey string, opts AuthOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || opts.public(r) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (o AuthOptions) public(r *http.Request) bool {
	if o.OpenReads && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		return true
	}
	for _, p := range o.PublicPrefixes {
		if strings.HasPrefix(r.URL.Path, p) {
			return true
		}
	}
	return false
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
