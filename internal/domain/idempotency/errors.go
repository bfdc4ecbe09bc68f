package idempotency

import "github.com/timebank/timebank-api/internal/pkg/apperror"

var (
	ErrKeyRequired = apperror.Validation(map[string]string{"idempotency_key": "This field is required"})
	ErrKeyTooLong  = apperror.Validation(map[string]string{"idempotency_key": "Value is too long (max: 128)"})

	// ErrKeyReused is returned when a key is presented again with different arguments.
	ErrKeyReused = apperror.New(apperror.KindConflict, "idempotency key reused with different arguments")

	// ErrNoResult means a claimed record carries no stored result.
	ErrNoResult = apperror.New(apperror.KindConflict, "idempotency key has no recorded result")
)
