package offer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
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

// Repository defines offer data access interface
type Repository interface {
	Create(ctx context.Context, o *Offer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Offer, error)
	Update(ctx context.Context, o *Offer) error
	ListActive(ctx context.Context, p Pagination) ([]*Offer, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, p Pagination) ([]*Offer, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new offer repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const offerColumns = `id, provider_id, title, description, price_credits, status, is_active, created_at, updated_at`

func (r *repository) Create(ctx context.Context, o *Offer) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO offers (id, provider_id, title, description, price_credits, status, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, o.ID, o.ProviderID, o.Title, o.Description, o.PriceCredits, o.Status, o.IsActive).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("offer: create: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Offer, error) {
	var o Offer
	err := r.db.GetContext(ctx, &o, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("offer: get: %w", err)
	}
	return &o, nil
}

func (r *repository) Update(ctx context.Context, o *Offer) error {
	err := r.db.QueryRowxContext(ctx, `
		UPDATE offers
		SET title = $2, description = $3, price_credits = $4, status = $5, is_active = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, o.ID, o.Title, o.Description, o.PriceCredits, o.Status, o.IsActive).Scan(&o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOfferNotFound
		}
		return fmt.Errorf("offer: update: %w", err)
	}
	return nil
}

func (r *repository) ListActive(ctx context.Context, p Pagination) ([]*Offer, error) {
	p = p.normalize()
	offers := make([]*Offer, 0)
	err := r.db.SelectContext(ctx, &offers, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE is_active = TRUE
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("offer: list active: %w", err)
	}
	return offers, nil
}

func (r *repository) ListByProvider(ctx context.Context, providerID uuid.UUID, p Pagination) ([]*Offer, error) {
	p = p.normalize()
	offers := make([]*Offer, 0)
	err := r.db.SelectContext(ctx, &offers, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, providerID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("offer: list by provider: %w", err)
	}
	return offers, nil
}
