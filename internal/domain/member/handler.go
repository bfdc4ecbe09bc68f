package member

import (
	"net/http"
	"strconv"

	"github.com/timebank/timebank-api/internal/domain/credit"
	"github.com/timebank/timebank-api/internal/middleware"
	"github.com/timebank/timebank-api/internal/pkg/errorhandler"
	"github.com/timebank/timebank-api/internal/pkg/response"
	"github.com/timebank/timebank-api/internal/pkg/validator"
)

// Handler handles member HTTP requests
type Handler struct {
	service *Service
	credits credit.Service
}

// NewHandler creates member handler
func NewHandler(service *Service, credits credit.Service) *Handler {
	return &Handler{service: service, credits: credits}
}

// Register handles POST /members
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errors := validator.Validate(&req); errors != nil {
		errorhandler.LogValidationError(r.Context(), errors)
		response.ValidationError(w, errors)
		return
	}

	m, err := h.service.Register(r.Context(), middleware.GetMemberID(r.Context()), &req)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}

	response.Created(w, MemberResponseFromEntity(m))
}

// Me handles GET /members/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.GetByID(r.Context(), middleware.GetMemberID(r.Context()))
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.OK(w, MemberResponseFromEntity(m))
}

// Transactions handles GET /members/me/transactions
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	txs, err := h.credits.ListTransactions(r.Context(), middleware.GetMemberID(r.Context()), credit.Pagination{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}

	response.WithMeta(w, txs, response.Meta{Limit: limit, Offset: offset, Count: len(txs)})
}
