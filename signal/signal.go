// Package signal defines the transport contract between the call core and
// the platform's signaling relay. The core is maximally standalone; it never
// touches the relay directly, only the Bus interface. Two implementations
// ship with the package: Relay (websocket client to the central relay) and
// MemoryBus (in-process mesh for tests and local wiring).
package signal

import (
	"encoding/json"
	"sync"
)

// Envelope is one inbound signaling message as delivered by the transport.
// From is the sender's user identity, stamped by the relay, never trusted
// from the payload itself.
type Envelope struct {
	Event   string          `json:"event"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Handler processes one inbound envelope. Handlers for the same event are
// invoked in registration order; a handler must not block.
type Handler func(env Envelope)

// Bus is the only surface the call core needs from the signaling layer.
// Delivery is at-most-once and unordered across event types; there is no
// built-in retry.
type Bus interface {
	// Emit sends a named event to the relay. Routing to the remote identity
	// is driven by the payload's targetUserId field; events without a target
	// are addressed to the relay service itself.
	Emit(event string, payload any) error

	// Subscribe registers a handler for a named event. The returned cancel
	// func unregisters it; calling cancel twice is safe.
	Subscribe(event string, h Handler) (cancel func())
}

// registry is the shared subscriber table used by both Bus implementations.
type registry struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
	trace    *envelopeTrace
}

func newRegistry() *registry {
	return &registry{
		handlers: make(map[string]map[int]Handler),
		trace:    newEnvelopeTrace(traceDepth),
	}
}

func (r *registry) subscribe(event string, h Handler) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	m, ok := r.handlers[event]
	if !ok {
		m = make(map[int]Handler)
		r.handlers[event] = m
	}
	m[id] = h
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		if m, ok := r.handlers[event]; ok {
			delete(m, id)
		}
		r.mu.Unlock()
	}
}

// dispatch routes one envelope to every subscriber of its event. Handlers
// are copied out first so a handler may subscribe/unsubscribe reentrantly.
func (r *registry) dispatch(env Envelope) {
	r.trace.push(env)
	envelopesDispatched.WithLabelValues(env.Event).Inc()

	r.mu.RLock()
	m := r.handlers[env.Event]
	hs := make([]Handler, 0, len(m))
	for _, h := range m {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(env)
	}
}

// Trace returns the most recent inbound envelopes, oldest first.
// Diagnostic only; the ring is bounded at traceDepth entries.
func (r *registry) Trace() []Envelope {
	return r.trace.snapshot()
}
