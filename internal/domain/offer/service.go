package offer

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ApprovalChecker reports whether a member may trade.
type ApprovalChecker interface {
	RequireApproved(ctx context.Context, memberID uuid.UUID) error
}

// Service handles offer business logic
type Service struct {
	repo      Repository
	approvals ApprovalChecker
}

// NewService creates offer service
func NewService(repo Repository, approvals ApprovalChecker) *Service {
	return &Service{repo: repo, approvals: approvals}
}

// Create publishes a new offer for an approved provider
func (s *Service) Create(ctx context.Context, providerID uuid.UUID, req *CreateOfferRequest) (*Offer, error) {
	if err := s.approvals.RequireApproved(ctx, providerID); err != nil {
		return nil, err
	}

	o := &Offer{
		ID:           uuid.New(),
		ProviderID:   providerID,
		Title:        strings.TrimSpace(req.Title),
		Description:  strings.TrimSpace(req.Description),
		PriceCredits: req.PriceCredits,
		Status:       StatusAvailable,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}

	log.Info().
		Str("offer_id", o.ID.String()).
		Str("provider_id", providerID.String()).
		Int64("price_credits", o.PriceCredits).
		Msg("offer created")
	return o, nil
}

// GetByID returns an offer
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Offer, error) {
	return s.repo.GetByID(ctx, id)
}

// ListActive returns offers open for discovery
func (s *Service) ListActive(ctx context.Context, p Pagination) ([]*Offer, error) {
	return s.repo.ListActive(ctx, p)
}

// ListByProvider returns all offers of a provider, including deactivated ones
func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, p Pagination) ([]*Offer, error) {
	return s.repo.ListByProvider(ctx, providerID, p)
}

// Update changes offer fields (owner only). Existing requests keep their price snapshot.
func (s *Service) Update(ctx context.Context, callerID, offerID uuid.UUID, req *UpdateOfferRequest) (*Offer, error) {
	o, err := s.owned(ctx, callerID, offerID)
	if err != nil {
		return nil, err
	}
	if !o.IsActive {
		return nil, ErrOfferInactive
	}

	if req.Title != nil {
		o.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		o.Description = strings.TrimSpace(*req.Description)
	}
	if req.PriceCredits != nil {
		o.PriceCredits = *req.PriceCredits
	}
	if req.Status != nil {
		o.Status = Status(*req.Status)
	}

	if err := s.repo.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Deactivate hides the offer from discovery. Offers are never deleted.
func (s *Service) Deactivate(ctx context.Context, callerID, offerID uuid.UUID) (*Offer, error) {
	o, err := s.owned(ctx, callerID, offerID)
	if err != nil {
		return nil, err
	}
	if !o.IsActive {
		return o, nil
	}

	o.IsActive = false
	if err := s.repo.Update(ctx, o); err != nil {
		return nil, err
	}

	log.Info().Str("offer_id", o.ID.String()).Msg("offer deactivated")
	return o, nil
}

func (s *Service) owned(ctx context.Context, callerID, offerID uuid.UUID) (*Offer, error) {
	o, err := s.repo.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.ProviderID != callerID {
		return nil, ErrNotOfferOwner
	}
	return o, nil
}
