package credit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/pkg/database"
)

// service implements the Service interface
type service struct {
	db   *sqlx.DB
	repo *Repository
}

// NewService creates a new credit service
func NewService(db *sqlx.DB) Service {
	return &service{
		db:   db,
		repo: NewRepository(db),
	}
}

// Grant issues credits to a member in its own transaction and returns the new balance.
func (s *service) Grant(ctx context.Context, memberID uuid.UUID, amount int64, meta Meta) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	err := database.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		balances, err := s.repo.LockBalances(ctx, tx, memberID)
		if err != nil {
			return err
		}
		if err := s.repo.CreditTx(ctx, tx, memberID, amount, TxTypeAdminGrant, meta); err != nil {
			return err
		}
		balance = balances[memberID] + amount
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().
		Str("member_id", memberID.String()).
		Int64("amount", amount).
		Int64("balance", balance).
		Msg("credits granted")
	return balance, nil
}

// IssueTx issues credits within an external transaction.
func (s *service) IssueTx(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID, amount int64, txType TxType, meta Meta) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.repo.CreditTx(ctx, tx, memberID, amount, txType, meta)
}

func (s *service) GetBalance(ctx context.Context, memberID uuid.UUID) (int64, error) {
	return s.repo.GetBalance(ctx, memberID)
}

func (s *service) ListTransactions(ctx context.Context, memberID uuid.UUID, pagination Pagination) ([]CreditTransaction, error) {
	return s.repo.ListTransactions(ctx, memberID, pagination)
}
