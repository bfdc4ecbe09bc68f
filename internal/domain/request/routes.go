package request

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns request router. accept is the escrow engine's AcceptRequest handler,
// served under /requests/accept next to the rest of the request lifecycle.
func (h *Handler) Routes(accept http.HandlerFunc) chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.ListMine)
	r.Get("/incoming", h.ListIncoming)
	r.Post("/accept", accept)
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/cancel", h.Cancel)

	return r
}
