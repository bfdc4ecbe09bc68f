package errorhandler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/pkg/apperror"
	"github.com/timebank/timebank-api/internal/pkg/response"
)

type contextKey string

// RequestIDKey is the context key under which middleware.RequestID stores the request id.
const RequestIDKey contextKey = "request_id"

// Handle translates an engine/domain error into the HTTP envelope. Business errors are
// reported with their own message and logged at warn; anything else is an infrastructure
// failure, logged at error and hidden behind a generic 500.
func Handle(ctx context.Context, w http.ResponseWriter, err error) {
	var appErr *apperror.Error
	kind, ok := apperror.KindOf(err)
	if !ok {
		log.Error().
			Str("request_id", RequestID(ctx)).
			Err(err).
			Msg("Request failed")
		response.InternalError(w)
		return
	}

	message := err.Error()
	log.Warn().
		Str("request_id", RequestID(ctx)).
		Str("error_kind", string(kind)).
		Str("error_message", message).
		Msg("Request rejected")

	switch kind {
	case apperror.KindNotFound:
		response.NotFound(w, message)
	case apperror.KindForbidden:
		response.Forbidden(w, message)
	case apperror.KindConflict:
		response.Conflict(w, message)
	case apperror.KindInvalidState:
		response.InvalidState(w, message)
	case apperror.KindInsufficientFunds:
		response.PaymentRequired(w, message)
	case apperror.KindValidation:
		details := map[string]string{}
		if errors.As(err, &appErr) && appErr.Details != nil {
			details = appErr.Details
		} else {
			details["error"] = message
		}
		response.ValidationError(w, details)
	default:
		response.InternalError(w)
	}
}

// LogValidationError logs validation errors with details
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	log.Warn().
		Str("request_id", RequestID(ctx)).
		Interface("validation_errors", fieldErrors).
		Msg("Validation error")
}

// RequestID returns the request id stored in ctx, or "unknown".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return id
	}
	return "unknown"
}
