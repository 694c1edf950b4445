// Package media defines the capability surface the call core needs from the
// underlying media stack: stream acquisition, point-to-point connections,
// and the offer/answer/candidate primitives. The production implementation
// (WebRTCEngine) is backed by Pion; tests substitute a fake Engine.
package media

// Kind distinguishes audio from video tracks.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Description types, matching SDP semantics.
const (
	DescriptionOffer  = "offer"
	DescriptionAnswer = "answer"
)

// Description is an SDP-like session description.
type Description struct {
	Type string `json:"type"` // "offer" | "answer"
	SDP  string `json:"sdp"`
}

// CandidateInit is the standard RTCIceCandidateInit shape (W3C WebRTC).
type CandidateInit struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// ConnState is the connection state reported by the underlying transport.
// Both overall connection states and the finer-grained ICE states
// (checking, completed) are forwarded through this type.
type ConnState string

const (
	StateNew          ConnState = "new"
	StateChecking     ConnState = "checking"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateCompleted    ConnState = "completed"
	StateDisconnected ConnState = "disconnected"
	StateFailed       ConnState = "failed"
	StateClosed       ConnState = "closed"
)

// Track is one local or remote media track. SetEnabled flips local muting
// only; it never touches the transport.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(bool)
	// Stop releases the capture resource. Stopping a track that is attached
	// to connections breaks outgoing media on all of them; only the owning
	// session's cleanup path may call it.
	Stop()
}

// Stream is an ordered set of tracks sharing one source.
type Stream interface {
	Tracks() []Track
	AudioTracks() []Track
	VideoTracks() []Track
	// Stop stops every track in the stream.
	Stop()
}

// Constraints selects which kinds of tracks GetUserMedia should acquire.
type Constraints struct {
	Audio bool
	Video bool
}

// OfferOptions tunes offer creation. ICERestart regenerates transport
// credentials for recovery without tearing down the session.
type OfferOptions struct {
	ICERestart bool
}

// Config is the per-connection configuration.
type Config struct {
	ICEServers []string
}

// PeerConn is one point-to-point media connection. Change notifications are
// single-slot: a later On* call replaces the previous callback.
type PeerConn interface {
	AddTrack(t Track) error
	CreateOffer(opts *OfferOptions) (Description, error)
	CreateAnswer() (Description, error)
	SetLocalDescription(d Description) error
	SetRemoteDescription(d Description) error
	LocalDescription() (Description, bool)
	RemoteDescription() (Description, bool)
	AddICECandidate(c CandidateInit) error
	OnICECandidate(func(CandidateInit))
	OnTrack(func(Stream))
	OnConnectionStateChange(func(ConnState))
	// Close releases the connection. Idempotent. It never stops tracks;
	// track ownership stays with the session.
	Close() error
}

// Engine creates connections and acquires local media.
type Engine interface {
	NewPeerConn(cfg Config) (PeerConn, error)
	GetUserMedia(c Constraints) (Stream, error)
}
