package escrow

import "github.com/go-chi/chi/v5"

// Routes returns escrow router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/confirm", h.Confirm)
	r.Post("/dispute", h.Dispute)
	r.Get("/{id}", h.GetByID)

	return r
}
