package events

import (
	"sync"

	"subledger/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves into the
// broadcastable attribute form.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, journal).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Render converts an event into its attribute form. Events that do not
// implement Payload are rendered with their type only.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if payload, ok := evt.(Payload); ok {
		if rendered := payload.Event(); rendered != nil {
			return rendered
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Buffer collects events until Flush forwards them downstream or Discard drops
// them. Operations that may fail buffer their notifications so a rolled back
// call never leaks events.
type Buffer struct {
	pending []Event
}

// Emit appends the event to the buffer.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Len reports how many events are waiting.
func (b *Buffer) Len() int { return len(b.pending) }

// Flush forwards all buffered events in order and clears the buffer.
func (b *Buffer) Flush(downstream Emitter) {
	pending := b.pending
	b.pending = nil
	if downstream == nil {
		return
	}
	for _, evt := range pending {
		downstream.Emit(evt)
	}
}

// Discard drops all buffered events.
func (b *Buffer) Discard() { b.pending = nil }

// Fanout forwards every event to each configured emitter in order.
type Fanout struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// NewFanout constructs a fan-out emitter over the provided sinks.
func NewFanout(emitters ...Emitter) *Fanout {
	f := &Fanout{}
	for _, e := range emitters {
		f.Add(e)
	}
	return f
}

// Add registers another downstream emitter.
func (f *Fanout) Add(e Emitter) {
	if e == nil {
		return
	}
	f.mu.Lock()
	f.emitters = append(f.emitters, e)
	f.mu.Unlock()
}

// Emit implements the Emitter interface.
func (f *Fanout) Emit(evt Event) {
	f.mu.RLock()
	emitters := append([]Emitter(nil), f.emitters...)
	f.mu.RUnlock()
	for _, e := range emitters {
		e.Emit(evt)
	}
}
