package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/timebank/timebank-api/internal/pkg/database"
)

// Pagination for listing
type Pagination struct {
	Limit  int
	Offset int
}

func (p Pagination) normalize() Pagination {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Repository provides escrow and dispute persistence. Mutating methods run inside a
// transaction owned by the engine.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const escrowColumns = `id, request_id, provider_id, requester_id, amount, status, expires_at,
	requester_confirmed, auto_released, released_at, created_at, updated_at`

const disputeColumns = `id, escrow_id, opened_by, reason, status, admin_decision, offer_share,
	provider_amount, requester_amount, resolved_by, resolved_at, created_at`

func (r *Repository) insertTx(ctx context.Context, tx *sqlx.Tx, e *Escrow) error {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO escrows (id, request_id, provider_id, requester_id, amount, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, e.ID, e.RequestID, e.ProviderID, e.RequesterID, e.Amount, e.Status, e.ExpiresAt).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("escrow for request %s already exists: %w", e.RequestID, ErrStateChanged)
		}
		return fmt.Errorf("escrow: insert: %w", err)
	}
	return nil
}

func (r *Repository) lockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Escrow, error) {
	var e Escrow
	err := tx.GetContext(ctx, &e, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("escrow: lock: %w", err)
	}
	return &e, nil
}

// lockExpiredTx locks a held escrow whose hold period has passed. Rows locked by another
// transaction are skipped, in which case found is false.
func (r *Repository) lockExpiredTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, now time.Time) (*Escrow, bool, error) {
	var e Escrow
	err := tx.GetContext(ctx, &e, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE id = $1 AND status = 'held' AND expires_at <= $2
		FOR UPDATE SKIP LOCKED
	`, id, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("escrow: lock expired: %w", err)
	}
	return &e, true, nil
}

// releaseTx moves a held escrow to released.
func (r *Repository) releaseTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, confirmed, auto bool, at time.Time) error {
	return r.expectOne(tx.ExecContext(ctx, `
		UPDATE escrows
		SET status = 'released', requester_confirmed = $2, auto_released = $3, released_at = $4, updated_at = now()
		WHERE id = $1 AND status = 'held'
	`, id, confirmed, auto, at))
}

func (r *Repository) transitionTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to Status) error {
	return r.expectOne(tx.ExecContext(ctx, `
		UPDATE escrows SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to))
}

func (r *Repository) expectOne(result sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("escrow: update: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("escrow: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrStateChanged
	}
	return nil
}

func (r *Repository) hasOpenDisputeTx(ctx context.Context, tx *sqlx.Tx, escrowID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM disputes WHERE escrow_id = $1 AND status = 'open')
	`, escrowID)
	if err != nil {
		return false, fmt.Errorf("escrow: check open dispute: %w", err)
	}
	return exists, nil
}

func (r *Repository) insertDisputeTx(ctx context.Context, tx *sqlx.Tx, d *Dispute) error {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO disputes (id, escrow_id, opened_by, reason, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, d.ID, d.EscrowID, d.OpenedBy, d.Reason, d.Status).Scan(&d.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrAlreadyDisputed
		}
		return fmt.Errorf("escrow: insert dispute: %w", err)
	}
	return nil
}

func (r *Repository) lockOpenDisputeTx(ctx context.Context, tx *sqlx.Tx, escrowID uuid.UUID) (*Dispute, error) {
	var d Dispute
	err := tx.GetContext(ctx, &d, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE escrow_id = $1 AND status = 'open'
		FOR UPDATE
	`, escrowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoOpenDispute
		}
		return nil, fmt.Errorf("escrow: lock dispute: %w", err)
	}
	return &d, nil
}

func (r *Repository) resolveDisputeTx(ctx context.Context, tx *sqlx.Tx, d *Dispute) error {
	err := r.expectOne(tx.ExecContext(ctx, `
		UPDATE disputes
		SET status = 'resolved', admin_decision = $2, offer_share = $3, provider_amount = $4,
		    requester_amount = $5, resolved_by = $6, resolved_at = $7
		WHERE id = $1 AND status = 'open'
	`, d.ID, d.AdminDecision, d.OfferShare, d.ProviderAmount, d.RequesterAmount, d.ResolvedBy, d.ResolvedAt))
	if errors.Is(err, ErrStateChanged) {
		return ErrNoOpenDispute
	}
	return err
}

// GetByID returns an escrow without locking it.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Escrow, error) {
	var e Escrow
	if err := r.db.GetContext(ctx, &e, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("escrow: get: %w", err)
	}
	return &e, nil
}

// ListForMember returns escrows where the member is requester or provider.
func (r *Repository) ListForMember(ctx context.Context, memberID uuid.UUID, p Pagination) ([]*Escrow, error) {
	p = p.normalize()
	escrows := make([]*Escrow, 0)
	err := r.db.SelectContext(ctx, &escrows, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE requester_id = $1 OR provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, memberID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("escrow: list for member: %w", err)
	}
	return escrows, nil
}

// ListOpenDisputes returns open disputes, oldest first.
func (r *Repository) ListOpenDisputes(ctx context.Context, p Pagination) ([]*OpenDisputeView, error) {
	p = p.normalize()
	views := make([]*OpenDisputeView, 0)
	err := r.db.SelectContext(ctx, &views, `
		SELECT d.id, d.escrow_id, d.opened_by, d.reason, d.status, d.admin_decision, d.offer_share,
		       d.provider_amount, d.requester_amount, d.resolved_by, d.resolved_at, d.created_at,
		       e.request_id, e.provider_id, e.requester_id, e.amount
		FROM disputes d
		JOIN escrows e ON e.id = d.escrow_id
		WHERE d.status = 'open'
		ORDER BY d.created_at
		LIMIT $1 OFFSET $2
	`, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("escrow: list open disputes: %w", err)
	}
	return views, nil
}

// ListExpiredHeld returns ids of held escrows whose hold period ended at or before now.
func (r *Repository) ListExpiredHeld(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 200
	}
	ids := make([]uuid.UUID, 0)
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id
		FROM escrows
		WHERE status = 'held' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("escrow: list expired: %w", err)
	}
	return ids, nil
}
