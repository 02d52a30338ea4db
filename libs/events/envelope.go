package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every envelope. Fields are only ever added, so
// consumers ignore keys they do not know.
const SchemaVersion = 1

var ErrMalformedEnvelope = errors.New("events: malformed envelope")

// Marshal renders e as a flat JSON object: the event's own fields plus
// eventType and schemaVersion.
func Marshal(e Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: event must encode as a JSON object: %w", e.EventType(), err)
	}
	if _, ok := fields["eventType"]; !ok {
		fields["eventType"], _ = json.Marshal(e.EventType())
	}
	if _, ok := fields["schemaVersion"]; !ok {
		fields["schemaVersion"], _ = json.Marshal(SchemaVersion)
	}
	return json.Marshal(fields)
}

// Envelope is the consumer-side view of a received event.
type Envelope struct {
	EventID       uuid.UUID
	EventType     string
	OccurredAt    time.Time
	SchemaVersion int
	Body          []byte
}

type envelopeHeader struct {
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	OccurredAt    time.Time `json:"occurredAt"`
	SchemaVersion int       `json:"schemaVersion"`
}

// Parse validates body and extracts the envelope header. The routing key, when
// present, names the event type; otherwise the eventType field is used.
// A missing or invalid eventId yields ErrMalformedEnvelope.
func Parse(body []byte, routingKey string) (Envelope, error) {
	var h envelopeHeader
	if err := json.Unmarshal(body, &h); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if h.EventID == "" {
		return Envelope{}, fmt.Errorf("%w: missing eventId", ErrMalformedEnvelope)
	}
	id, err := uuid.Parse(h.EventID)
	if err != nil || id == uuid.Nil {
		return Envelope{}, fmt.Errorf("%w: invalid eventId %q", ErrMalformedEnvelope, h.EventID)
	}

	eventType := routingKey
	if eventType == "" {
		eventType = h.EventType
	}
	if eventType == "" {
		return Envelope{}, fmt.Errorf("%w: unknown event type", ErrMalformedEnvelope)
	}

	return Envelope{
		EventID:       id,
		EventType:     eventType,
		OccurredAt:    h.OccurredAt,
		SchemaVersion: h.SchemaVersion,
		Body:          body,
	}, nil
}

// Decode unmarshals the full payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.EventType, err)
	}
	return nil
}
