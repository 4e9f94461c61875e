package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matross-gh/platform-engineering-copilot/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. Request
// submission is rate limited when limiter is non-nil.
func MountRoutes(r chi.Router, h *Handlers, limiter *middleware.RateLimiter) {
	submit := func(next http.Handler) http.Handler { return next }
	if limiter != nil {
		submit = limiter.Handler
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Requests
		r.With(submit).Post("/requests", h.ProcessRequest)
		r.With(submit).Post("/conversations/{id}/requests", h.ProcessConversationRequest)

		// Conversations
		r.Get("/conversations/{id}", h.GetConversation)
		r.Delete("/conversations/{id}", h.DeleteConversation)
		r.Get("/conversations/{id}/events", h.ListConversationEvents)

		// Audit and introspection
		r.Get("/events", h.ListEvents)
		r.Get("/executors", h.ListExecutors)
		r.Get("/stats", h.Stats)
	})
}
