package request

import "github.com/timebank/timebank-api/internal/pkg/apperror"

var (
	ErrRequestNotFound  = apperror.New(apperror.KindNotFound, "request not found")
	ErrNotRequester     = apperror.New(apperror.KindForbidden, "only the requester can do this")
	ErrNotProvider      = apperror.New(apperror.KindForbidden, "only the offer provider can do this")
	ErrOwnOffer         = apperror.New(apperror.KindForbidden, "you cannot request your own offer")
	ErrNotPending       = apperror.New(apperror.KindInvalidState, "request is not pending")
	ErrOfferUnavailable = apperror.New(apperror.KindInvalidState, "offer is not available for requests")
	ErrDuplicateRequest = apperror.New(apperror.KindConflict, "you already have an open request for this offer")

	// ErrStateChanged is wrapped when a guarded status update matched no row.
	ErrStateChanged = apperror.New(apperror.KindInvalidState, "request status changed concurrently")
)
