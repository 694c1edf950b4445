package call

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"

	"github.com/cartline/callkit/media"
)

// PeerHooks are the notifications a Peer delivers to its owner. All hooks
// may be invoked from transport goroutines; owners must not call back into
// the Peer while holding their own locks.
type PeerHooks struct {
	OnCandidate    func(media.CandidateInit)
	OnStateChange  func(media.ConnState)
	OnRemoteStream func(media.Stream)
}

// Peer wraps one media.PeerConn with the offer/answer bookkeeping both the
// 1:1 session and the group coordinator need. It owns the connection but
// never the local tracks; closing a Peer keeps capture alive for reuse.
type Peer struct {
	remoteID string
	log      logging.LeveledLogger

	mu     sync.Mutex
	conn   media.PeerConn
	remote media.Stream
	closed bool
}

// NewPeer creates the underlying connection and wires the hooks.
func NewPeer(engine media.Engine, cfg media.Config, remoteID string, hooks PeerHooks, log logging.LeveledLogger) (*Peer, error) {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("call")
	}
	conn, err := engine.NewPeerConn(cfg)
	if err != nil {
		return nil, fmt.Errorf("peer %s: %w", remoteID, err)
	}

	p := &Peer{remoteID: remoteID, conn: conn, log: log}

	conn.OnICECandidate(func(c media.CandidateInit) {
		if hooks.OnCandidate != nil {
			hooks.OnCandidate(c)
		}
	})
	conn.OnTrack(func(s media.Stream) {
		p.mu.Lock()
		p.remote = s
		p.mu.Unlock()
		if hooks.OnRemoteStream != nil {
			hooks.OnRemoteStream(s)
		}
	})
	conn.OnConnectionStateChange(func(s media.ConnState) {
		if hooks.OnStateChange != nil {
			hooks.OnStateChange(s)
		}
	})

	return p, nil
}

// RemoteID returns the identity of the peer on the far side.
func (p *Peer) RemoteID() string { return p.remoteID }

// RemoteStream returns the inbound stream, or nil before the first remote
// track arrives.
func (p *Peer) RemoteStream() media.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

// AttachLocalTracks adds every track of the local stream to the connection.
// A nil stream attaches nothing; the connection negotiates receive-only.
func (p *Peer) AttachLocalTracks(s media.Stream) error {
	if s == nil {
		return nil
	}
	for _, t := range s.Tracks() {
		if err := p.conn.AddTrack(t); err != nil {
			return fmt.Errorf("peer %s: add %s track: %w", p.remoteID, t.Kind(), err)
		}
	}
	return nil
}

// CreateOffer produces a local offer and installs it as the local
// description.
func (p *Peer) CreateOffer() (media.Description, error) {
	return p.offer(nil)
}

// RestartICE produces an offer with fresh transport credentials. The
// session keeps running; only connectivity is renegotiated.
func (p *Peer) RestartICE() (media.Description, error) {
	return p.offer(&media.OfferOptions{ICERestart: true})
}

func (p *Peer) offer(opts *media.OfferOptions) (media.Description, error) {
	d, err := p.conn.CreateOffer(opts)
	if err != nil {
		return media.Description{}, fmt.Errorf("peer %s: create offer: %w", p.remoteID, err)
	}
	if err := p.conn.SetLocalDescription(d); err != nil {
		return media.Description{}, fmt.Errorf("peer %s: set local offer: %w", p.remoteID, err)
	}
	return d, nil
}

// AcceptOffer installs a remote offer and produces the local answer.
func (p *Peer) AcceptOffer(offer media.Description) (media.Description, error) {
	if err := p.conn.SetRemoteDescription(offer); err != nil {
		return media.Description{}, fmt.Errorf("peer %s: set remote offer: %w", p.remoteID, err)
	}
	answer, err := p.conn.CreateAnswer()
	if err != nil {
		return media.Description{}, fmt.Errorf("peer %s: create answer: %w", p.remoteID, err)
	}
	if err := p.conn.SetLocalDescription(answer); err != nil {
		return media.Description{}, fmt.Errorf("peer %s: set local answer: %w", p.remoteID, err)
	}
	return answer, nil
}

// ApplyAnswer installs the remote answer for a previously sent offer.
func (p *Peer) ApplyAnswer(answer media.Description) error {
	if _, ok := p.conn.LocalDescription(); !ok {
		return errors.New("call: answer received before any offer was made")
	}
	if err := p.conn.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("peer %s: set remote answer: %w", p.remoteID, err)
	}
	return nil
}

// AddRemoteCandidate feeds one trickled candidate into the connection.
// Individual candidate failures are logged and swallowed; ICE succeeds as
// long as one viable pair survives.
func (p *Peer) AddRemoteCandidate(c media.CandidateInit) {
	if err := p.conn.AddICECandidate(c); err != nil {
		p.log.Warnf("peer %s: add candidate: %v", p.remoteID, err)
	}
}

// Close releases the connection. Idempotent, and never touches local
// tracks.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	if err := p.conn.Close(); err != nil {
		p.log.Warnf("peer %s: close: %v", p.remoteID, err)
	}
}
