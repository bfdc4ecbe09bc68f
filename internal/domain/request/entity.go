package request

import (
	"time"

	"github.com/google/uuid"
)

// Status represents request lifecycle state
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDisputed  Status = "disputed"
)

// Request is a member's request to receive an offered service (matches requests table).
// PriceCredits is copied from the offer at creation and never follows later price changes.
type Request struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	OfferID      uuid.UUID  `db:"offer_id" json:"offer_id"`
	RequesterID  uuid.UUID  `db:"requester_id" json:"requester_id"`
	PriceCredits int64      `db:"price_credits" json:"price_credits"`
	Status       Status     `db:"status" json:"status"`
	EscrowID     *uuid.UUID `db:"escrow_id" json:"escrow_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`

	// Joined from offers
	ProviderID uuid.UUID `db:"provider_id" json:"provider_id"`
	OfferTitle string    `db:"offer_title" json:"offer_title"`
}

// IsPending returns true if request awaits the provider's decision
func (r *Request) IsPending() bool {
	return r.Status == StatusPending
}
