package request

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/domain/offer"
	"github.com/timebank/timebank-api/internal/pkg/database"
)

// ApprovalChecker reports whether a member may trade.
type ApprovalChecker interface {
	RequireApproved(ctx context.Context, memberID uuid.UUID) error
}

// OfferReader loads offers.
type OfferReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*offer.Offer, error)
}

// Service handles the non-escrow part of the request lifecycle: creation, rejection and
// cancellation while the request is still pending.
type Service struct {
	db        *sqlx.DB
	repo      Repository
	offers    OfferReader
	approvals ApprovalChecker
}

// NewService creates request service
func NewService(db *sqlx.DB, repo Repository, offers OfferReader, approvals ApprovalChecker) *Service {
	return &Service{db: db, repo: repo, offers: offers, approvals: approvals}
}

// Create places a pending request with a snapshot of the offer price.
func (s *Service) Create(ctx context.Context, requesterID, offerID uuid.UUID) (*Request, error) {
	if err := s.approvals.RequireApproved(ctx, requesterID); err != nil {
		return nil, err
	}

	o, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.ProviderID == requesterID {
		return nil, ErrOwnOffer
	}
	if !o.IsRequestable() {
		return nil, ErrOfferUnavailable
	}

	req := &Request{
		ID:           uuid.New(),
		OfferID:      o.ID,
		RequesterID:  requesterID,
		PriceCredits: o.PriceCredits,
		Status:       StatusPending,
		ProviderID:   o.ProviderID,
		OfferTitle:   o.Title,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	log.Info().
		Str("request_id", req.ID.String()).
		Str("offer_id", o.ID.String()).
		Str("requester_id", requesterID.String()).
		Int64("price_credits", req.PriceCredits).
		Msg("request created")
	return req, nil
}

// ListMine returns requests placed by the member
func (s *Service) ListMine(ctx context.Context, requesterID uuid.UUID, p Pagination) ([]*Request, error) {
	return s.repo.ListByRequester(ctx, requesterID, p)
}

// ListForProvider returns requests placed on the member's offers
func (s *Service) ListForProvider(ctx context.Context, providerID uuid.UUID, p Pagination) ([]*Request, error) {
	return s.repo.ListByProvider(ctx, providerID, p)
}

// Reject declines a pending request (provider only)
func (s *Service) Reject(ctx context.Context, callerID, requestID uuid.UUID) (*Request, error) {
	return s.closePending(ctx, requestID, StatusRejected, func(req *Request) error {
		if req.ProviderID != callerID {
			return ErrNotProvider
		}
		return nil
	})
}

// Cancel withdraws a pending request (requester only)
func (s *Service) Cancel(ctx context.Context, callerID, requestID uuid.UUID) (*Request, error) {
	return s.closePending(ctx, requestID, StatusCancelled, func(req *Request) error {
		if req.RequesterID != callerID {
			return ErrNotRequester
		}
		return nil
	})
}

func (s *Service) closePending(ctx context.Context, requestID uuid.UUID, to Status, authorize func(*Request) error) (*Request, error) {
	var req *Request
	err := database.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		var err error
		req, err = s.repo.LockTx(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := authorize(req); err != nil {
			return err
		}
		if !req.IsPending() {
			return ErrNotPending
		}
		return s.repo.TransitionTx(ctx, tx, requestID, StatusPending, to, nil)
	})
	if err != nil {
		return nil, err
	}
	req.Status = to

	log.Info().
		Str("request_id", requestID.String()).
		Str("status", string(to)).
		Msg("request closed")
	return req, nil
}
