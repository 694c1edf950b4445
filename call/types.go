// Package call implements the one-to-one call core: a per-call state
// machine with bounded automatic reconnection, built on the signal bus and
// the media engine. Coupling to the transport goes via signal.Bus only.
package call

import "time"

// CallType selects which kinds of local tracks a call captures.
type CallType string

const (
	TypeVoice CallType = "voice"
	TypeVideo CallType = "video"
)

// Constraints returns the capture constraints for the call type.
func (t CallType) Constraints() (audio, video bool) {
	return true, t == TypeVideo
}

// State is the externally observable call state.
type State string

const (
	StateIdle         State = "idle"
	StateInitiating   State = "initiating"
	StateRinging      State = "ringing"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateError        State = "error"
)

// IncomingCall describes a ring from a remote party. The receiver answers
// with Session.Answer or declines with Session.End.
type IncomingCall struct {
	CallerID   string
	CallerName string
	CallType   CallType
}

// Options tunes a Session.
type Options struct {
	// SelfName is the display name sent with outgoing call invitations.
	SelfName string

	// ICEServers for each peer connection. Empty means the engine default.
	ICEServers []string

	// MaxReconnectAttempts bounds the automatic recovery protocol.
	MaxReconnectAttempts int

	// ReconnectDelay is the pause before each recovery attempt.
	ReconnectDelay time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxReconnectAttempts: 3,
		ReconnectDelay:       2 * time.Second,
	}
}
