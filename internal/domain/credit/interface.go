package credit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Service interface defines the credit service operations
type Service interface {
	// Grant issues new credits to a member (admin action).
	Grant(ctx context.Context, memberID uuid.UUID, amount int64, meta Meta) (int64, error)

	// IssueTx issues credits within an external transaction, e.g. the registration bonus.
	IssueTx(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID, amount int64, txType TxType, meta Meta) error

	// GetBalance returns the current credit balance for a member
	GetBalance(ctx context.Context, memberID uuid.UUID) (int64, error)

	// ListTransactions returns paginated transaction history for a member
	ListTransactions(ctx context.Context, memberID uuid.UUID, pagination Pagination) ([]CreditTransaction, error)
}
