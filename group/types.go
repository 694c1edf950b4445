// Package group implements the multi-party call coordinator: N independent
// peer connections keyed by remote identity, with host/guest choreography.
// The newcomer always initiates connections to the existing roster; everyone
// else only seeds a placeholder when a join is announced. That convention is
// what prevents duplicate offers colliding mid-negotiation.
package group

import (
	"errors"
	"sync"
	"time"

	"github.com/cartline/callkit/call"
	"github.com/cartline/callkit/media"
)

// ErrNotAuthorized is returned when a non-elevated role tries to start a
// group call. Checked synchronously, before any media or signaling side
// effect.
var ErrNotAuthorized = errors.New("group: role not authorized to start group calls")

// Role is the caller's platform role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

// Elevated reports whether the role may start group calls. Anyone may join.
func (r Role) Elevated() bool { return r == RoleAdmin }

// Participant is one remote party in the call. The entry persists while the
// participant is in the roster even if its connection drops; only an
// explicit "participant left" event removes it.
type Participant struct {
	UserID   string
	UserName string

	mu     sync.Mutex
	peer   *call.Peer
	stream media.Stream
}

// Stream returns the participant's remote media stream, or nil.
func (p *Participant) Stream() media.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream
}

// Connected reports whether a live connection exists for this participant.
func (p *Participant) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer != nil
}

func (p *Participant) setPeer(peer *call.Peer) {
	p.mu.Lock()
	p.peer = peer
	p.mu.Unlock()
}

func (p *Participant) getPeer() *call.Peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

func (p *Participant) setStream(s media.Stream) {
	p.mu.Lock()
	p.stream = s
	p.mu.Unlock()
}

// dropConn nulls the connection and stream in place, returning them for
// teardown. The roster entry itself stays.
func (p *Participant) dropConn() (*call.Peer, media.Stream) {
	p.mu.Lock()
	peer, stream := p.peer, p.stream
	p.peer = nil
	p.stream = nil
	p.mu.Unlock()
	return peer, stream
}

// Options tunes a Coordinator.
type Options struct {
	// SelfID is the local identity, used to skip self in rosters.
	SelfID string

	// Role gates Start.
	Role Role

	// ICEServers for each participant connection. Empty means the engine
	// default.
	ICEServers []string

	// StartTimeout bounds the wait for the relay's start acknowledgment.
	StartTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{StartTimeout: 5 * time.Second}
}
