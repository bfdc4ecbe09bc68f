package request

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

// Repository defines request data access. The *Tx methods run inside a caller-owned
// transaction and are shared with the escrow engine.
type Repository interface {
	Create(ctx context.Context, req *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID, p Pagination) ([]*Request, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, p Pagination) ([]*Request, error)
	LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Request, error)
	TransitionTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to Status, escrowID *uuid.UUID) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new request repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const selectRequest = `
	SELECT r.id, r.offer_id, r.requester_id, r.price_credits, r.status, r.escrow_id,
	       r.created_at, r.updated_at, o.provider_id, o.title AS offer_title
	FROM requests r
	JOIN offers o ON o.id = r.offer_id`

func (r *repository) Create(ctx context.Context, req *Request) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO requests (id, offer_id, requester_id, price_credits, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, req.ID, req.OfferID, req.RequesterID, req.PriceCredits, req.Status).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("request: create: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	var req Request
	if err := r.db.GetContext(ctx, &req, selectRequest+` WHERE r.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("request: get: %w", err)
	}
	return &req, nil
}

func (r *repository) ListByRequester(ctx context.Context, requesterID uuid.UUID, p Pagination) ([]*Request, error) {
	p = p.normalize()
	reqs := make([]*Request, 0)
	err := r.db.SelectContext(ctx, &reqs, selectRequest+`
		WHERE r.requester_id = $1
		ORDER BY r.created_at DESC
		LIMIT $2 OFFSET $3
	`, requesterID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("request: list by requester: %w", err)
	}
	return reqs, nil
}

func (r *repository) ListByProvider(ctx context.Context, providerID uuid.UUID, p Pagination) ([]*Request, error) {
	p = p.normalize()
	reqs := make([]*Request, 0)
	err := r.db.SelectContext(ctx, &reqs, selectRequest+`
		WHERE o.provider_id = $1
		ORDER BY r.created_at DESC
		LIMIT $2 OFFSET $3
	`, providerID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("request: list by provider: %w", err)
	}
	return reqs, nil
}

// LockTx reads the request with a row lock held until the transaction ends.
func (r *repository) LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Request, error) {
	var req Request
	if err := tx.GetContext(ctx, &req, selectRequest+` WHERE r.id = $1 FOR UPDATE OF r`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("request: lock: %w", err)
	}
	return &req, nil
}

// TransitionTx moves the request from one status to another, failing with ErrStateChanged
// when the request is no longer in the from status.
func (r *repository) TransitionTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to Status, escrowID *uuid.UUID) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE requests
		SET status = $3, escrow_id = COALESCE($4, escrow_id), updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to, escrowID)
	if err != nil {
		return fmt.Errorf("request: transition %s->%s: %w", from, to, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("request: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("request %s is not %s: %w", id, from, ErrStateChanged)
	}
	return nil
}
