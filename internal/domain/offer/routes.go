package offer

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns offer router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	// Public routes
	r.Get("/", h.List)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", h.Create)
		r.Get("/my", h.ListMy)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Deactivate)
	})

	r.Get("/{id}", h.GetByID)

	return r
}
