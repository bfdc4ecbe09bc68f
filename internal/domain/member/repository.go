package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/timebank/timebank-api/internal/pkg/database"
)

// Repository defines member data access interface
type Repository interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, m *Member) error
	GetByID(ctx context.Context, id uuid.UUID) (*Member, error)
	SetApproved(ctx context.Context, id uuid.UUID, approved bool) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new member repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateTx(ctx context.Context, tx *sqlx.Tx, m *Member) error {
	query := `
		INSERT INTO members (id, email, name, contact, role, balance, is_approved)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRowxContext(ctx, query,
		m.ID, m.Email, m.Name, m.Contact, m.Role, m.IsApproved,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrMemberExists
		}
		return fmt.Errorf("member: create: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Member, error) {
	var m Member
	err := r.db.GetContext(ctx, &m, `
		SELECT id, email, name, contact, role, balance, is_approved, created_at, updated_at
		FROM members
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("member: get: %w", err)
	}
	return &m, nil
}

func (r *repository) SetApproved(ctx context.Context, id uuid.UUID, approved bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE members SET is_approved = $2, updated_at = now() WHERE id = $1
	`, id, approved)
	if err != nil {
		return fmt.Errorf("member: set approved: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("member: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMemberNotFound
	}
	return nil
}
