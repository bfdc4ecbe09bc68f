package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names an escrow state change.
type EventType string

const (
	EventHeld     EventType = "escrow.held"
	EventReleased EventType = "escrow.released"
	EventDisputed EventType = "escrow.disputed"
	EventResolved EventType = "escrow.resolved"
)

// Event describes a committed escrow transition. It is delivered to both participants.
type Event struct {
	Type        EventType `json:"type"`
	EscrowID    uuid.UUID `json:"escrow_id"`
	RequestID   uuid.UUID `json:"request_id"`
	ProviderID  uuid.UUID `json:"provider_id"`
	RequesterID uuid.UUID `json:"requester_id"`
	Amount      int64     `json:"amount"`
	Status      Status    `json:"status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Recipients returns the members the event concerns.
func (e Event) Recipients() []uuid.UUID {
	return []uuid.UUID{e.RequesterID, e.ProviderID}
}

// EventPublisher receives events after commit. Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

func newEvent(t EventType, e *Escrow, at time.Time) *Event {
	return &Event{
		Type:        t,
		EscrowID:    e.ID,
		RequestID:   e.RequestID,
		ProviderID:  e.ProviderID,
		RequesterID: e.RequesterID,
		Amount:      e.Amount,
		Status:      e.Status,
		OccurredAt:  at,
	}
}
