package escrow

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/timebank/timebank-api/internal/middleware"
	"github.com/timebank/timebank-api/internal/pkg/errorhandler"
	"github.com/timebank/timebank-api/internal/pkg/response"
	"github.com/timebank/timebank-api/internal/pkg/validator"
)

// Handler exposes the escrow engine over HTTP
type Handler struct {
	engine *Engine
}

// NewHandler creates escrow handler
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// CallerFromContext builds the engine caller from the verified token identity.
func CallerFromContext(ctx context.Context) Caller {
	return Caller{
		MemberID: middleware.GetMemberID(ctx),
		IsAdmin:  middleware.IsAdmin(ctx),
	}
}

// ReplayedHeader is set on responses answered from a stored idempotency record.
const ReplayedHeader = "Idempotent-Replayed"

// MarkReplayed flags a replayed response. Status and body match the first call.
func MarkReplayed(w http.ResponseWriter, replayed bool) {
	if replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
}

func pagination(r *http.Request) Pagination {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return Pagination{Limit: limit, Offset: offset}.normalize()
}

// decode reads and validates a JSON body, writing the error response itself.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := response.DecodeJSON(r.Body, v); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	if errors := validator.Validate(v); errors != nil {
		errorhandler.LogValidationError(r.Context(), errors)
		response.ValidationError(w, errors)
		return false
	}
	return true
}

// Accept handles POST /requests/accept
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	var req AcceptRequestRequest
	if !decode(w, r, &req) {
		return
	}

	requestID, _ := uuid.Parse(req.RequestID)
	result, err := h.engine.AcceptRequest(r.Context(), CallerFromContext(r.Context()), requestID, req.IdempotencyKey)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}

	MarkReplayed(w, result.Replayed)
	response.Created(w, result)
}

// Confirm handles POST /escrow/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !decode(w, r, &req) {
		return
	}

	escrowID, _ := uuid.Parse(req.EscrowID)
	result, err := h.engine.ConfirmCompletion(r.Context(), CallerFromContext(r.Context()), escrowID, req.IdempotencyKey)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	MarkReplayed(w, result.Replayed)
	response.OK(w, result)
}

// Dispute handles POST /escrow/dispute
func (h *Handler) Dispute(w http.ResponseWriter, r *http.Request) {
	var req DisputeRequest
	if !decode(w, r, &req) {
		return
	}

	escrowID, _ := uuid.Parse(req.EscrowID)
	result, err := h.engine.OpenDispute(r.Context(), CallerFromContext(r.Context()), escrowID, req.Reason)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.Created(w, result)
}

// List handles GET /escrow
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p := pagination(r)
	escrows, err := h.engine.ListForMember(r.Context(), CallerFromContext(r.Context()), p)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.WithMeta(w, escrows, response.Meta{Limit: p.Limit, Offset: p.Offset, Count: len(escrows)})
}

// GetByID handles GET /escrow/{id}
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid escrow ID")
		return
	}

	escrow, err := h.engine.GetEscrow(r.Context(), CallerFromContext(r.Context()), id)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err)
		return
	}
	response.OK(w, escrow)
}
