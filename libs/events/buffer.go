package events

// Buffer collects events raised by an aggregate until they are handed to the
// outbox. Not safe for concurrent use; an aggregate is owned by one operation.
type Buffer struct {
	pending []Event
}

func (b *Buffer) Record(e Event) {
	b.pending = append(b.pending, e)
}

// Events returns a copy of the buffered events without clearing them.
func (b *Buffer) Events() []Event {
	out := make([]Event, len(b.pending))
	copy(out, b.pending)
	return out
}

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []Event {
	out := b.pending
	b.pending = nil
	return out
}

func (b *Buffer) Len() int { return len(b.pending) }

// Recorder is implemented by any aggregate embedding Buffer.
type Recorder interface {
	Events() []Event
	Drain() []Event
}
