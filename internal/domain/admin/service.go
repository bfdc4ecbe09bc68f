package admin

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/domain/credit"
	"github.com/timebank/timebank-api/internal/domain/escrow"
	"github.com/timebank/timebank-api/internal/domain/member"
)

// DisputeResolver is the part of the escrow engine admins drive.
type DisputeResolver interface {
	ResolveDispute(ctx context.Context, caller escrow.Caller, escrowID uuid.UUID, decision escrow.Decision, offerShare int, idempotencyKey string) (*escrow.ResolveResult, error)
	ListOpenDisputes(ctx context.Context, caller escrow.Caller, p escrow.Pagination) ([]*escrow.OpenDisputeView, error)
}

// MemberApprover approves registered members.
type MemberApprover interface {
	Approve(ctx context.Context, id uuid.UUID) (*member.Member, error)
}

// Service handles admin business logic
type Service struct {
	repo     Repository
	disputes DisputeResolver
	credits  credit.Service
	members  MemberApprover
}

// NewService creates admin service
func NewService(repo Repository, disputes DisputeResolver, credits credit.Service, members MemberApprover) *Service {
	return &Service{
		repo:     repo,
		disputes: disputes,
		credits:  credits,
		members:  members,
	}
}

// ResolveDispute settles a disputed escrow
func (s *Service) ResolveDispute(ctx context.Context, caller escrow.Caller, req *ResolveDisputeRequest) (*escrow.ResolveResult, error) {
	escrowID, err := uuid.Parse(req.EscrowID)
	if err != nil {
		return nil, escrow.ErrEscrowNotFound
	}
	share := escrow.DefaultOfferShare
	if req.OfferShare != nil {
		share = *req.OfferShare
	}
	return s.disputes.ResolveDispute(ctx, caller, escrowID, escrow.Decision(req.Decision), share, req.IdempotencyKey)
}

// ListDisputes returns the open dispute queue
func (s *Service) ListDisputes(ctx context.Context, caller escrow.Caller, p escrow.Pagination) ([]*escrow.OpenDisputeView, error) {
	return s.disputes.ListOpenDisputes(ctx, caller, p)
}

// GrantCredits issues credits to a member. The ledger row references the granting admin.
func (s *Service) GrantCredits(ctx context.Context, adminID, memberID uuid.UUID, req *GrantCreditsRequest) (*GrantCreditsResponse, error) {
	balance, err := s.credits.Grant(ctx, memberID, req.Amount, credit.Meta{
		RelatedEntityType: "admin",
		RelatedEntityID:   adminID,
		Description:       req.Reason,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("admin_id", adminID.String()).
		Str("member_id", memberID.String()).
		Int64("amount", req.Amount).
		Str("reason", req.Reason).
		Msg("Admin granted credits")

	return &GrantCreditsResponse{MemberID: memberID, Amount: req.Amount, Balance: balance}, nil
}

// ApproveMember lets a registered member trade
func (s *Service) ApproveMember(ctx context.Context, adminID, memberID uuid.UUID) (*member.Member, error) {
	m, err := s.members.Approve(ctx, memberID)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("admin_id", adminID.String()).
		Str("member_id", memberID.String()).
		Msg("Member approved")
	return m, nil
}

// ListReconciliationRuns returns reconciliation history
func (s *Service) ListReconciliationRuns(ctx context.Context, limit, offset int) ([]*ReconciliationRunResponse, error) {
	runs, err := s.repo.ListReconciliationRuns(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*ReconciliationRunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.ToResponse())
	}
	return out, nil
}
