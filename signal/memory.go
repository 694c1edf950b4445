package signal

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Mesh is an in-process signaling fabric connecting MemoryBus endpoints by
// user identity. It stands in for the central relay in tests and local
// wiring: target-addressed events are delivered to the matching endpoint,
// untargeted events (group start/join/leave/end requests) go to the service
// endpoint, if one is attached.
type Mesh struct {
	mu      sync.RWMutex
	peers   map[string]*MemoryBus
	service *MemoryBus
}

// NewMesh creates an empty mesh.
func NewMesh() *Mesh {
	return &Mesh{peers: make(map[string]*MemoryBus)}
}

// Endpoint returns the bus for userID, creating it on first use.
func (m *Mesh) Endpoint(userID string) *MemoryBus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.peers[userID]; ok {
		return b
	}
	b := &MemoryBus{mesh: m, userID: userID, registry: newRegistry()}
	m.peers[userID] = b
	return b
}

// ServiceEndpoint returns the bus that receives untargeted events, creating
// it on first use. A test standing in for the relay subscribes here.
func (m *Mesh) ServiceEndpoint() *MemoryBus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.service == nil {
		m.service = &MemoryBus{mesh: m, userID: "", registry: newRegistry()}
	}
	return m.service
}

// MemoryBus is one endpoint on a Mesh. It implements Bus; delivery is
// synchronous and in emission order per sender.
type MemoryBus struct {
	mesh   *Mesh
	userID string
	*registry
}

// UserID returns the identity this endpoint is registered under.
func (b *MemoryBus) UserID() string { return b.userID }

// Emit routes the event through the mesh. The target identity is read from
// the payload's targetUserId field, matching what the real relay does.
func (b *MemoryBus) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	var route struct {
		TargetUserID string `json:"targetUserId"`
	}
	_ = json.Unmarshal(raw, &route)

	env := Envelope{Event: event, From: b.userID, Payload: raw}

	b.mesh.mu.RLock()
	target := b.mesh.service
	if route.TargetUserID != "" {
		target = b.mesh.peers[route.TargetUserID]
	}
	b.mesh.mu.RUnlock()

	if target == nil {
		return fmt.Errorf("no endpoint for %q", route.TargetUserID)
	}
	target.dispatch(env)
	return nil
}

// Subscribe registers a handler for inbound events on this endpoint.
func (b *MemoryBus) Subscribe(event string, h Handler) (cancel func()) {
	return b.subscribe(event, h)
}

// Inject delivers an envelope to this endpoint directly, bypassing routing.
// Used by tests playing the relay's role.
func (b *MemoryBus) Inject(event, from string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.dispatch(Envelope{Event: event, From: from, Payload: raw})
	return nil
}
