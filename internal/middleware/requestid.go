// Package middleware provides HTTP middleware for the copilot API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/matross-gh/platform-engineering-copilot/internal/logger"
)

const (
	headerRequestID      = "X-Request-ID"
	headerConversationID = "X-Conversation-ID"

	maxRequestIDLength = 128
)

// RequestID is HTTP middleware that extracts X-Request-ID from the request
// header or generates a UUID. The ID is stored in the context and echoed on
// the response. An X-Conversation-ID header, when present, is attached to
// the context as well so every log line of the request carries it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		if conv := strings.TrimSpace(r.Header.Get(headerConversationID)); conv != "" {
			ctx = logger.WithConversationID(ctx, conv)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
