// Package events defines domain events, the per-aggregate buffer that collects
// them, and the JSON envelope they travel in between services.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable fact raised by an aggregate. EventType is the stable
// name used as the broker routing key.
type Event interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
}

// Base carries the identity and timestamp shared by every event. Embed it in
// concrete event structs; its fields are flattened into the JSON envelope.
type Base struct {
	ID uuid.UUID `json:"eventId"`
	At time.Time `json:"occurredAt"`
}

func NewBase(now time.Time) Base {
	return Base{ID: uuid.New(), At: now.UTC()}
}

func (b Base) EventID() uuid.UUID    { return b.ID }
func (b Base) OccurredAt() time.Time { return b.At }
