package escrow

import (
	"time"

	"github.com/google/uuid"
)

// Status represents escrow state. released, refunded and resolved are terminal.
type Status string

const (
	StatusHeld     Status = "held"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
	StatusDisputed Status = "disputed"
	StatusResolved Status = "resolved"
)

// DisputeStatus represents dispute state
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// Decision is an admin's ruling on a dispute
type Decision string

const (
	DecisionRelease Decision = "release"
	DecisionRefund  Decision = "refund"
	DecisionSplit   Decision = "split"
)

// DefaultOfferShare is the provider percentage used for a split when none is given.
const DefaultOfferShare = 50

// Escrow holds a requester's credits until the service is confirmed or a dispute resolved
// (matches escrows table).
type Escrow struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	RequestID          uuid.UUID  `db:"request_id" json:"request_id"`
	ProviderID         uuid.UUID  `db:"provider_id" json:"provider_id"`
	RequesterID        uuid.UUID  `db:"requester_id" json:"requester_id"`
	Amount             int64      `db:"amount" json:"amount"`
	Status             Status     `db:"status" json:"status"`
	ExpiresAt          time.Time  `db:"expires_at" json:"expires_at"`
	RequesterConfirmed bool       `db:"requester_confirmed" json:"requester_confirmed"`
	AutoReleased       bool       `db:"auto_released" json:"auto_released"`
	ReleasedAt         *time.Time `db:"released_at" json:"released_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// IsParticipant returns true if the member is the requester or the provider
func (e *Escrow) IsParticipant(memberID uuid.UUID) bool {
	return e.RequesterID == memberID || e.ProviderID == memberID
}

// Dispute is a contest raised on a held escrow (matches disputes table)
type Dispute struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	EscrowID        uuid.UUID     `db:"escrow_id" json:"escrow_id"`
	OpenedBy        uuid.UUID     `db:"opened_by" json:"opened_by"`
	Reason          string        `db:"reason" json:"reason"`
	Status          DisputeStatus `db:"status" json:"status"`
	AdminDecision   *Decision     `db:"admin_decision" json:"admin_decision,omitempty"`
	OfferShare      *int          `db:"offer_share" json:"offer_share,omitempty"`
	ProviderAmount  *int64        `db:"provider_amount" json:"provider_amount,omitempty"`
	RequesterAmount *int64        `db:"requester_amount" json:"requester_amount,omitempty"`
	ResolvedBy      *uuid.UUID    `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// OpenDisputeView is an open dispute with the escrow it blocks, for the admin queue.
type OpenDisputeView struct {
	Dispute
	RequestID   uuid.UUID `db:"request_id" json:"request_id"`
	ProviderID  uuid.UUID `db:"provider_id" json:"provider_id"`
	RequesterID uuid.UUID `db:"requester_id" json:"requester_id"`
	Amount      int64     `db:"amount" json:"amount"`
}

// Caller is the verified identity on whose behalf an operation runs.
type Caller struct {
	MemberID uuid.UUID
	IsAdmin  bool
}

// AcceptResult is returned by AcceptRequest and replayed verbatim for a repeated key.
type AcceptResult struct {
	EscrowID  uuid.UUID `json:"escrow_id"`
	RequestID uuid.UUID `json:"request_id"`
	Amount    int64     `json:"amount"`
	ExpiresAt time.Time `json:"expires_at"`
	Replayed  bool      `json:"-"`
}

// ReleaseResult is returned by ConfirmCompletion.
type ReleaseResult struct {
	EscrowID   uuid.UUID `json:"escrow_id"`
	RequestID  uuid.UUID `json:"request_id"`
	ProviderID uuid.UUID `json:"provider_id"`
	Amount     int64     `json:"amount"`
	Status     Status    `json:"status"`
	Replayed   bool      `json:"-"`
}

// DisputeResult is returned by OpenDispute.
type DisputeResult struct {
	DisputeID uuid.UUID     `json:"dispute_id"`
	EscrowID  uuid.UUID     `json:"escrow_id"`
	Status    DisputeStatus `json:"status"`
}

// ResolveResult is returned by ResolveDispute.
type ResolveResult struct {
	EscrowID        uuid.UUID `json:"escrow_id"`
	DisputeID       uuid.UUID `json:"dispute_id"`
	Decision        Decision  `json:"decision"`
	OfferShare      int       `json:"offer_share"`
	ProviderAmount  int64     `json:"provider_amount"`
	RequesterAmount int64     `json:"requester_amount"`
	Replayed        bool      `json:"-"`
}
