package credit

import "github.com/timebank/timebank-api/internal/pkg/apperror"

var (
	// ErrInsufficientCredits is returned when a member doesn't have enough credits
	ErrInsufficientCredits = apperror.New(apperror.KindInsufficientFunds, "insufficient credits")

	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = apperror.New(apperror.KindValidation, "invalid amount: must be greater than 0")

	// ErrMemberNotFound is returned when the member doesn't exist
	ErrMemberNotFound = apperror.New(apperror.KindNotFound, "member not found")
)
