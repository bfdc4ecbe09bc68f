package escrow

import "github.com/timebank/timebank-api/internal/pkg/apperror"

var (
	ErrEscrowNotFound  = apperror.New(apperror.KindNotFound, "escrow not found")
	ErrNotParticipant  = apperror.New(apperror.KindForbidden, "only the requester or provider can do this")
	ErrNotRequester    = apperror.New(apperror.KindForbidden, "only the requester can confirm completion")
	ErrAdminOnly       = apperror.New(apperror.KindForbidden, "only an admin can resolve disputes")
	ErrNotHeld         = apperror.New(apperror.KindInvalidState, "escrow is not held")
	ErrNotDisputed     = apperror.New(apperror.KindInvalidState, "escrow is not under dispute")
	ErrNoOpenDispute   = apperror.New(apperror.KindInvalidState, "escrow has no open dispute")
	ErrAlreadyDisputed = apperror.New(apperror.KindConflict, "escrow is already disputed")

	// ErrStateChanged is wrapped when a guarded status update matched no row.
	ErrStateChanged = apperror.New(apperror.KindInvalidState, "escrow status changed concurrently")
)
