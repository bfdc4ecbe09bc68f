package credit

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository provides credit ledger and balance operations. Every mutating method runs
// inside a transaction owned by the caller and never commits or rolls back itself.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// LockBalances takes FOR UPDATE locks on the given members in ascending id order and
// returns their balances. Duplicate ids are locked once.
func (r *Repository) LockBalances(ctx context.Context, tx *sqlx.Tx, memberIDs ...uuid.UUID) (map[uuid.UUID]int64, error) {
	ids := make([]uuid.UUID, 0, len(memberIDs))
	seen := make(map[uuid.UUID]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	// PostgreSQL orders uuids bytewise, matching this sort.
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	balances := make(map[uuid.UUID]int64, len(ids))
	for _, id := range ids {
		var balance int64
		err := tx.QueryRowxContext(ctx, `SELECT balance FROM members WHERE id = $1 FOR UPDATE`, id).Scan(&balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrMemberNotFound
			}
			return nil, fmt.Errorf("credit: lock member %s: %w", id, err)
		}
		balances[id] = balance
	}
	return balances, nil
}

// DebitTx removes amount from the member balance and appends the ledger row.
// The conditional update keeps the balance non-negative even without a prior lock.
func (r *Repository) DebitTx(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID, amount int64, txType TxType, meta Meta) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE members
		SET balance = balance - $2, updated_at = now()
		WHERE id = $1 AND balance >= $2
	`, memberID, amount)
	if err != nil {
		return fmt.Errorf("credit: debit member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrInsufficientCredits
	}

	return r.insertLedger(ctx, tx, memberID, -amount, txType, meta)
}

// CreditTx adds amount to the member balance and appends the ledger row.
func (r *Repository) CreditTx(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID, amount int64, txType TxType, meta Meta) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE members
		SET balance = balance + $2, updated_at = now()
		WHERE id = $1
	`, memberID, amount)
	if err != nil {
		return fmt.Errorf("credit: credit member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMemberNotFound
	}

	return r.insertLedger(ctx, tx, memberID, amount, txType, meta)
}

func (r *Repository) GetBalance(ctx context.Context, memberID uuid.UUID) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int64
	err := r.db.GetContext(ctx2, &balance, `SELECT balance FROM members WHERE id = $1`, memberID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrMemberNotFound
		}
		return 0, fmt.Errorf("credit: get balance: %w", err)
	}

	return balance, nil
}

func (r *Repository) ListTransactions(ctx context.Context, memberID uuid.UUID, pagination Pagination) ([]CreditTransaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := pagination.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	transactions := make([]CreditTransaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT id, member_id, amount_delta, tx_type, related_entity_type, related_entity_id, description, created_at
		FROM credit_transactions
		WHERE member_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, memberID, limit, pagination.Offset)
	if err != nil {
		return nil, fmt.Errorf("credit: list transactions: %w", err)
	}

	return transactions, nil
}

func (r *Repository) insertLedger(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID, amountDelta int64, txType TxType, meta Meta) error {
	if !txType.valid() {
		return fmt.Errorf("credit: unknown transaction type %q", txType)
	}

	var entityType *string
	if meta.RelatedEntityType != "" {
		entityType = &meta.RelatedEntityType
	}
	var entityID *uuid.UUID
	if meta.RelatedEntityID != uuid.Nil {
		entityID = &meta.RelatedEntityID
	}
	if meta.Description == "" {
		meta.Description = string(txType)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (
			member_id, amount_delta, tx_type, related_entity_type, related_entity_id, description
		)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, memberID, amountDelta, string(txType), entityType, entityID, meta.Description)
	if err != nil {
		return fmt.Errorf("credit: insert transaction: %w", err)
	}

	return nil
}
