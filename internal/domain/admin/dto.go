package admin

import "github.com/google/uuid"

// ResolveDisputeRequest for POST /admin/disputes/resolve. OfferShare defaults to 50.
type ResolveDisputeRequest struct {
	EscrowID       string `json:"escrow_id" validate:"required,uuid"`
	Decision       string `json:"admin_decision" validate:"required,decision"`
	OfferShare     *int   `json:"offer_share" validate:"omitempty,gte=0,lte=100"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,notblank,max=128"`
}

// GrantCreditsRequest for POST /admin/members/{id}/credits/grant
type GrantCreditsRequest struct {
	Amount int64  `json:"amount" validate:"required,gte=1,lte=1000000"`
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// GrantCreditsResponse reports the member balance after a grant
type GrantCreditsResponse struct {
	MemberID uuid.UUID `json:"member_id"`
	Amount   int64     `json:"amount"`
	Balance  int64     `json:"balance"`
}
