package offer

import (
	"time"

	"github.com/google/uuid"
)

// Status represents offer availability set by the provider
type Status string

const (
	StatusAvailable  Status = "available"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Offer is a service a provider offers for credits (matches offers table)
type Offer struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ProviderID   uuid.UUID `db:"provider_id" json:"provider_id"`
	Title        string    `db:"title" json:"title"`
	Description  string    `db:"description" json:"description"`
	PriceCredits int64     `db:"price_credits" json:"price_credits"`
	Status       Status    `db:"status" json:"status"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// IsRequestable returns true if new requests may be placed on the offer
func (o *Offer) IsRequestable() bool {
	return o.IsActive && o.Status == StatusAvailable
}
