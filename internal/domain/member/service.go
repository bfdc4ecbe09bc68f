package member

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/domain/credit"
	"github.com/timebank/timebank-api/internal/pkg/database"
)

// Service handles member business logic
type Service struct {
	db                *sqlx.DB
	repo              Repository
	credits           credit.Service
	registrationBonus int64
}

// NewService creates member service. A positive registrationBonus is issued to every new
// member in the same transaction that creates the profile.
func NewService(db *sqlx.DB, repo Repository, credits credit.Service, registrationBonus int64) *Service {
	return &Service{
		db:                db,
		repo:              repo,
		credits:           credits,
		registrationBonus: registrationBonus,
	}
}

// Register creates the profile of an authenticated identity.
func (s *Service) Register(ctx context.Context, id uuid.UUID, req *RegisterRequest) (*Member, error) {
	m := &Member{
		ID:    id,
		Email: strings.ToLower(strings.TrimSpace(req.Email)),
		Name:  strings.TrimSpace(req.Name),
		Role:  RoleMember,
	}
	if contact := strings.TrimSpace(req.Contact); contact != "" {
		m.Contact = &contact
	}

	err := database.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		if err := s.repo.CreateTx(ctx, tx, m); err != nil {
			return err
		}
		if s.registrationBonus <= 0 {
			return nil
		}
		return s.credits.IssueTx(ctx, tx, m.ID, s.registrationBonus, credit.TxTypeRegistrationBonus, credit.Meta{
			RelatedEntityType: "member",
			RelatedEntityID:   m.ID,
			Description:       "registration bonus",
		})
	})
	if err != nil {
		return nil, err
	}
	m.Balance = s.registrationBonus

	log.Info().
		Str("member_id", m.ID.String()).
		Int64("bonus", s.registrationBonus).
		Msg("member registered")
	return m, nil
}

// GetByID returns a member
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.repo.GetByID(ctx, id)
}

// Approve marks a member as approved (admin only, enforced by routing)
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*Member, error) {
	if err := s.repo.SetApproved(ctx, id, true); err != nil {
		return nil, err
	}
	log.Info().Str("member_id", id.String()).Msg("member approved")
	return s.repo.GetByID(ctx, id)
}

// RequireApproved returns ErrNotApproved unless the member exists and is approved.
func (s *Service) RequireApproved(ctx context.Context, id uuid.UUID) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !m.IsApproved {
		return ErrNotApproved
	}
	return nil
}
