package request

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/timebank/timebank-api/internal/middleware"
	"github.com/timebank/timebank-api/internal/pkg/errorhandler"
	"github.com/timebank/timebank-api/internal/pkg/response"
	"github.com/timebank/timebank-api/internal/pkg/validator"
)

// Handler handles request HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates request handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func pagination(r *http.Request) Pagination {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return Pagination{Limit: limit, Offset: offset}.normalize()
}

// Create handles POST /requests
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequestRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errors := validator.Validate(&req); errors != nil {
		errorhandler.LogValidationError(r.Context(), errors)
		response.ValidationError(w, errors)
		return
	}

	offerID, _ := uuid.Parse(req.OfferID)
	created, err := h.service.Create(r.Context(), middleware.GetMemberID(r.Context()), offerID)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.Created(w, created)
}

// ListMine handles GET /requests
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	p := pagination(r)
	reqs, err := h.service.ListMine(r.Context(), middleware.GetMemberID(r.Context()), p)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.WithMeta(w, reqs, response.Meta{Limit: p.Limit, Offset: p.Offset, Count: len(reqs)})
}

// ListIncoming handles GET /requests/incoming
func (h *Handler) ListIncoming(w http.ResponseWriter, r *http.Request) {
	p := pagination(r)
	reqs, err := h.service.ListForProvider(r.Context(), middleware.GetMemberID(r.Context()), p)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.WithMeta(w, reqs, response.Meta{Limit: p.Limit, Offset: p.Offset, Count: len(reqs)})
}

// Reject handles POST /requests/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid request ID")
		return
	}

	req, err := h.service.Reject(r.Context(), middleware.GetMemberID(r.Context()), id)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.OK(w, req)
}

// Cancel handles POST /requests/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid request ID")
		return
	}

	req, err := h.service.Cancel(r.Context(), middleware.GetMemberID(r.Context()), id)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.OK(w, req)
}
