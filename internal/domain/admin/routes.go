package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/timebank/timebank-api/internal/middleware"
)

// Routes returns admin router. Every route requires a verified admin token.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())

	r.Route("/disputes", func(r chi.Router) {
		r.Get("/", h.ListDisputes)
		r.Post("/resolve", h.ResolveDispute)
	})

	r.Route("/members/{id}", func(r chi.Router) {
		r.Post("/approve", h.ApproveMember)
		r.Post("/credits/grant", h.GrantCredits)
	})

	r.Get("/reconciliation/runs", h.ListReconciliationRuns)

	return r
}
