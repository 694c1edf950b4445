package signal

import "sync"

// traceDepth is how many recent envelopes each bus keeps for diagnostics.
const traceDepth = 64

// envelopeTrace is a fixed-capacity ring of recent envelopes. When full,
// push overwrites the oldest entry. Safe for concurrent use.
type envelopeTrace struct {
	mu    sync.RWMutex
	buf   []Envelope
	head  int
	count int
}

func newEnvelopeTrace(capacity int) *envelopeTrace {
	return &envelopeTrace{buf: make([]Envelope, capacity)}
}

func (t *envelopeTrace) push(env Envelope) {
	t.mu.Lock()
	idx := (t.head + t.count) % len(t.buf)
	t.buf[idx] = env
	if t.count == len(t.buf) {
		t.head = (t.head + 1) % len(t.buf)
	} else {
		t.count++
	}
	t.mu.Unlock()
}

func (t *envelopeTrace) snapshot() []Envelope {
	t.mu.RLock()
	out := make([]Envelope, t.count)
	for i := 0; i < t.count; i++ {
		out[i] = t.buf[(t.head+i)%len(t.buf)]
	}
	t.mu.RUnlock()
	return out
}
