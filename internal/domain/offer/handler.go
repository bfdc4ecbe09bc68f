package offer

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

// Handler handles offer HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates offer handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func pagination(r *http.Request) Pagination {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return Pagination{Limit: limit, Offset: offset}.normalize()
}

// List handles GET /offers
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p := pagination(r)
	offers, err := h.service.ListActive(r.Context(), p)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.WithMeta(w, offers, response.Meta{Limit: p.Limit, Offset: p.Offset, Count: len(offers)})
}

// ListMy handles GET /offers/my
func (h *Handler) ListMy(w http.ResponseWriter, r *http.Request) {
	p := pagination(r)
	offers, err := h.service.ListByProvider(r.Context(), middleware.GetMemberID(r.Context()), p)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.WithMeta(w, offers, response.Meta{Limit: p.Limit, Offset: p.Offset, Count: len(offers)})
}

// GetByID handles GET /offers/{id}
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid offer ID")
		return
	}

	o, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.OK(w, o)
}

// Create handles POST /offers
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errors := validator.Validate(&req); errors != nil {
		errorhandler.LogValidationError(r.Context(), errors)
		response.ValidationError(w, errors)
		return
	}

	o, err := h.service.Create(r.Context(), middleware.GetMemberID(r.Context()), &req)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.Created(w, o)
}

// Update handles PATCH /offers/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid offer ID")
		return
	}

	var req UpdateOfferRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errors := validator.Validate(&req); errors != nil {
		errorhandler.LogValidationError(r.Context(), errors)
		response.ValidationError(w, errors)
		return
	}

	o, err := h.service.Update(r.Context(), middleware.GetMemberID(r.Context()), id, &req)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.OK(w, o)
}

// Deactivate handles DELETE /offers/{id}
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid offer ID")
		return
	}

	o, err := h.service.Deactivate(r.Context(), middleware.GetMemberID(r.Context()), id)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.OK(w, o)
}
