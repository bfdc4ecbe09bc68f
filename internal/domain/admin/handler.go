package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/timebank/timebank-api/internal/domain/escrow"
	"github.com/timebank/timebank-api/internal/domain/member"
	"github.com/timebank/timebank-api/internal/middleware"
	"github.com/timebank/timebank-api/internal/pkg/errorhandler"
	"github.com/timebank/timebank-api/internal/pkg/response"
	"github.com/timebank/timebank-api/internal/pkg/validator"
)

// Handler handles admin HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates admin handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func pageParams(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func memberIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid member ID")
		return uuid.Nil, false
	}
	return id, true
}

// ResolveDispute handles POST /admin/disputes/resolve
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req ResolveDisputeRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errors := validator.Validate(&req); errors != nil {
		errorhandler.LogValidationError(r.Context(), errors)
		response.ValidationError(w, errors)
		return
	}

	result, err := h.service.ResolveDispute(r.Context(), escrow.CallerFromContext(r.Context()), &req)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	escrow.MarkReplayed(w, result.Replayed)
	response.OK(w, result)
}

// ListDisputes handles GET /admin/disputes
func (h *Handler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	disputes, err := h.service.ListDisputes(r.Context(), escrow.CallerFromContext(r.Context()), escrow.Pagination{Limit: limit, Offset: offset})
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.WithMeta(w, disputes, response.Meta{Limit: limit, Offset: offset, Count: len(disputes)})
}

// GrantCredits handles POST /admin/members/{id}/credits/grant
func (h *Handler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	memberID, ok := memberIDParam(w, r)
	if !ok {
		return
	}

	var req GrantCreditsRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errors := validator.Validate(&req); errors != nil {
		errorhandler.LogValidationError(r.Context(), errors)
		response.ValidationError(w, errors)
		return
	}

	result, err := h.service.GrantCredits(r.Context(), middleware.GetMemberID(r.Context()), memberID, &req)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.OK(w, result)
}

// ApproveMember handles POST /admin/members/{id}/approve
func (h *Handler) ApproveMember(w http.ResponseWriter, r *http.Request) {
	memberID, ok := memberIDParam(w, r)
	if !ok {
		return
	}

	m, err := h.service.ApproveMember(r.Context(), middleware.GetMemberID(r.Context()), memberID)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.OK(w, member.MemberResponseFromEntity(m))
}

// ListReconciliationRuns handles GET /admin/reconciliation/runs
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	runs, err := h.service.ListReconciliationRuns(r.Context(), limit, offset)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.WithMeta(w, runs, response.Meta{Limit: limit, Offset: offset, Count: len(runs)})
}
