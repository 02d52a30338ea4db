package inbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/groupchat/libs/events"
)

var (
	ErrHandlerExists    = errors.New("inbox: handler already registered")
	ErrEmptyEventType   = errors.New("inbox: event type is empty")
	ErrNilHandler       = errors.New("inbox: handler is nil")
	errAlreadyProcessed = errors.New("inbox: event already processed")
)

// Handler applies an event's effect inside tx. The ledger row for the event is
// written in the same transaction.
type Handler func(ctx context.Context, tx pgx.Tx, env events.Envelope) error

// Typed decodes the envelope into T before calling fn. A payload that cannot be
// decoded is a permanent failure.
func Typed[T any](fn func(ctx context.Context, tx pgx.Tx, env events.Envelope, payload T) error) Handler {
	return func(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
		var payload T
		if err := env.Decode(&payload); err != nil {
			return Permanent(err)
		}
		return fn(ctx, tx, env, payload)
	}
}

// Registry maps event type names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(eventType string, h Handler) error {
	if eventType == "" {
		return ErrEmptyEventType
	}
	if h == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[eventType]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, eventType)
	}
	r.handlers[eventType] = h
	return nil
}

func (r *Registry) Lookup(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	return h, ok
}

// EventTypes returns the registered names in sorted order.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the message is acknowledged and dropped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
