package mcp

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware wraps an http.Handler and requires apiKey either as a
// Bearer token or in the X-API-Key header. An empty apiKey disables the
// check.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-API-Key")
		if token == "" {
			auth := r.Header.Get("Authorization")
			var ok bool
			token, ok = strings.CutPrefix(auth, "Bearer ")
			if !ok {
				token = ""
			}
		}
		if token == "" {
			http.Error(w, "missing credentials", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			http.Error(w, "invalid credentials", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
