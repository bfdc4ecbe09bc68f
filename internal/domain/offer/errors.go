package offer

import "github.com/timebank/timebank-api/internal/pkg/apperror"

var (
	ErrOfferNotFound = apperror.New(apperror.KindNotFound, "offer not found")
	ErrNotOfferOwner = apperror.New(apperror.KindForbidden, "only the provider can manage this offer")
	ErrOfferInactive = apperror.New(apperror.KindInvalidState, "offer is deactivated")
)
