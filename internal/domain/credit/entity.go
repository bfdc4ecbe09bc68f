package credit

import (
	"time"

	"github.com/google/uuid"
)

// TxType defines supported credit transaction types.
type TxType string

const (
	TxTypeRegistrationBonus TxType = "registration_bonus"
	TxTypeAdminGrant        TxType = "admin_grant"
	TxTypeEscrowHold        TxType = "escrow_hold"
	TxTypeEscrowRelease     TxType = "escrow_release"
	TxTypeEscrowRefund      TxType = "escrow_refund"
)

// IssuanceTypes create credits; every other type only moves them.
var IssuanceTypes = []TxType{TxTypeRegistrationBonus, TxTypeAdminGrant}

func (t TxType) valid() bool {
	switch t {
	case TxTypeRegistrationBonus, TxTypeAdminGrant, TxTypeEscrowHold, TxTypeEscrowRelease, TxTypeEscrowRefund:
		return true
	}
	return false
}

// Meta represents optional metadata attached to a credit transaction.
type Meta struct {
	RelatedEntityType string
	RelatedEntityID   uuid.UUID
	Description       string
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}

// CreditTransaction is a ledger row.
type CreditTransaction struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	MemberID          uuid.UUID  `db:"member_id" json:"member_id"`
	AmountDelta       int64      `db:"amount_delta" json:"amount_delta"`
	TxType            TxType     `db:"tx_type" json:"tx_type"`
	RelatedEntityType *string    `db:"related_entity_type" json:"related_entity_type,omitempty"`
	RelatedEntityID   *uuid.UUID `db:"related_entity_id" json:"related_entity_id,omitempty"`
	Description       string     `db:"description" json:"description"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}
