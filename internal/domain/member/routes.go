package member

import (
	"github.com/go-chi/chi/v5"
)

// Routes returns member router. All routes require authentication.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Register)
	r.Get("/me", h.Me)
	r.Get("/me/transactions", h.Transactions)

	return r
}
