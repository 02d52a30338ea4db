package outbox

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/groupchat/libs/events"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
)

const maxLastErrorLen = 1000

var (
	// ErrDurability means the events of a business operation could not be
	// queued; the operation's transaction was rolled back.
	ErrDurability        = errors.New("outbox: events could not be durably queued")
	ErrInvalidTransition = errors.New("outbox: invalid status transition")
	ErrRecordNotFound    = errors.New("outbox: record not found")
	ErrNotFailed         = errors.New("outbox: record is not failed")
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPublished, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusPublished || s == StatusFailed
}

// CanTransitionTo reports whether the publisher may move a record from s to next.
// Pending may stay Pending (retry bookkeeping) or move to Published or Failed.
func (s Status) CanTransitionTo(next Status) bool {
	if s != StatusPending {
		return false
	}
	return next.Valid()
}

// Record is one row of the outbox table.
type Record struct {
	ID          int64
	EventID     uuid.UUID
	EventType   string
	Payload     []byte
	Status      Status
	CreatedAt   time.Time
	PublishedAt *time.Time
	RetryCount  int
	LastError   string
	Traceparent string
	Tracestate  string
}

// NewRecord serializes e into a Pending record created at the event's time.
func NewRecord(e events.Event) (Record, error) {
	payload, err := events.Marshal(e)
	if err != nil {
		return Record{}, err
	}
	return Record{
		EventID:   e.EventID(),
		EventType: e.EventType(),
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: e.OccurredAt().UTC(),
	}, nil
}

func (r *Record) MarkPublished(at time.Time) error {
	if !r.Status.CanTransitionTo(StatusPublished) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusPublished)
	}
	at = at.UTC()
	r.Status = StatusPublished
	r.PublishedAt = &at
	return nil
}

// RecordFailure counts a failed delivery attempt. Once RetryCount reaches
// maxRetries the record becomes Failed and is no longer picked up.
func (r *Record) RecordFailure(cause error, maxRetries int) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: %s cannot record a failure", ErrInvalidTransition, r.Status)
	}
	r.RetryCount++
	if cause != nil {
		r.LastError = truncate(cause.Error(), maxLastErrorLen)
	}
	if r.RetryCount >= maxRetries {
		r.Status = StatusFailed
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
