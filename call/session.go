package call

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pion/logging"

	"github.com/cartline/callkit/media"
	"github.com/cartline/callkit/signal"
)

// ErrBusy is returned when a call operation is attempted while another call
// is already in progress.
var ErrBusy = errors.New("call: another call is in progress")

// Session drives one 1:1 call at a time. All signaling and connection
// callbacks funnel through the session's mutex; the state machine itself
// lives in a looplab FSM so illegal transitions surface as errors instead
// of silent corruption.
//
// Recovery: an unexpected disconnect while connected triggers up to
// MaxReconnectAttempts ICE restarts, spaced ReconnectDelay apart. A
// successful reconnect resets the budget; exhaustion forces failed.
type Session struct {
	bus    signal.Bus
	engine media.Engine
	clk    clock.Clock
	opts   Options
	log    logging.LeveledLogger

	sm *fsm.FSM

	mu             sync.Mutex
	peer           *Peer
	localStream    media.Stream
	remoteStream   media.Stream
	target         string
	callType       CallType
	negotiationID  string
	pendingOffer   *media.Description
	pendingNegID   string
	attempts       int
	muted          bool
	videoOff       bool
	errMsg         string
	reconnectTimer *clock.Timer
	cancels        []func()

	// OnStateChange, OnIncoming and OnEnded are optional observer hooks.
	// Set them before the first call; they are invoked without the session
	// lock held.
	OnStateChange func(State)
	OnIncoming    func(IncomingCall)
	OnEnded       func()
}

// NewSession subscribes to the 1:1 call events on the bus and returns a
// session in the idle state. Close unsubscribes.
func NewSession(bus signal.Bus, engine media.Engine, opts Options, clk clock.Clock, lf logging.LoggerFactory) *Session {
	if clk == nil {
		clk = clock.New()
	}
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	if opts.MaxReconnectAttempts == 0 {
		opts.MaxReconnectAttempts = DefaultOptions().MaxReconnectAttempts
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = DefaultOptions().ReconnectDelay
	}

	s := &Session{
		bus:    bus,
		engine: engine,
		clk:    clk,
		opts:   opts,
		log:    lf.NewLogger("call"),
	}

	s.sm = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: "dial", Src: []string{string(StateIdle)}, Dst: string(StateInitiating)},
			{Name: "ring", Src: []string{string(StateInitiating)}, Dst: string(StateRinging)},
			{Name: "accept", Src: []string{string(StateIdle)}, Dst: string(StateConnecting)},
			{Name: "negotiate", Src: []string{string(StateRinging), string(StateInitiating)}, Dst: string(StateConnecting)},
			{Name: "establish", Src: []string{string(StateConnecting), string(StateReconnecting)}, Dst: string(StateConnected)},
			{Name: "drop", Src: []string{string(StateConnected), string(StateReconnecting)}, Dst: string(StateReconnecting)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.log.Debugf("state %s -> %s (%s)", e.Src, e.Dst, e.Event)
			},
		},
	)

	for event, h := range map[string]signal.Handler{
		signal.EventCallInitiate: s.handleInitiate,
		signal.EventCallOffer:    s.handleOffer,
		signal.EventCallAnswer:   s.handleAnswer,
		signal.EventICECandidate: s.handleCandidate,
		signal.EventCallEnd:      s.handleRemoteEnd,
	} {
		s.cancels = append(s.cancels, bus.Subscribe(event, h))
	}
	return s
}

// State returns the current call state.
func (s *Session) State() State { return State(s.sm.Current()) }

// Target returns the remote identity of the active call, or "".
func (s *Session) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// ErrorMessage returns the user-facing message after a failed or error
// state, or "".
func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// RemoteStream returns the remote media stream, or nil before it arrives.
func (s *Session) RemoteStream() media.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteStream
}

// LocalStream returns the local capture stream, or nil.
func (s *Session) LocalStream() media.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localStream
}

// Start rings the target and sends the initial offer. The session moves
// through initiating (media acquisition) to ringing; connection progress
// then drives it to connecting and connected.
func (s *Session) Start(targetID string, callType CallType) error {
	if err := s.sm.Event(context.Background(), "dial"); err != nil {
		return ErrBusy
	}
	s.mu.Lock()
	s.target = targetID
	s.callType = callType
	s.mu.Unlock()
	s.notifyState(StateInitiating)

	stream, err := s.acquireMedia(callType)
	if err != nil {
		return err
	}

	peer, err := s.buildPeer(targetID, stream)
	if err != nil {
		s.failNegotiation(err)
		return err
	}

	if err := s.bus.Emit(signal.EventCallInitiate, signal.CallInitiatePayload{
		TargetUserID: targetID,
		CallerName:   s.opts.SelfName,
		CallType:     string(callType),
	}); err != nil {
		s.log.Warnf("emit %s: %v", signal.EventCallInitiate, err)
	}

	if err := s.sendOffer(peer, false); err != nil {
		s.failNegotiation(err)
		return err
	}

	if err := s.sm.Event(context.Background(), "ring"); err == nil {
		s.notifyState(StateRinging)
	}
	callsStarted.WithLabelValues(string(callType)).Inc()
	s.log.Infof("calling %s (%s)", targetID, callType)
	return nil
}

// Answer accepts the pending incoming call. The answering side has no
// ringing phase; it moves straight to connecting.
func (s *Session) Answer() error {
	s.mu.Lock()
	target := s.target
	callType := s.callType
	s.mu.Unlock()
	if target == "" {
		return errors.New("call: no incoming call to answer")
	}
	if err := s.sm.Event(context.Background(), "accept"); err != nil {
		return ErrBusy
	}
	s.notifyState(StateConnecting)

	stream, err := s.acquireMedia(callType)
	if err != nil {
		return err
	}

	peer, err := s.buildPeer(target, stream)
	if err != nil {
		s.failNegotiation(err)
		return err
	}

	// The caller's offer may have raced ahead of our accept. If it is
	// already here, answer now; otherwise handleOffer answers on arrival.
	s.mu.Lock()
	pending := s.pendingOffer
	negID := s.pendingNegID
	s.pendingOffer = nil
	s.mu.Unlock()
	if pending != nil {
		if err := s.answerOffer(peer, target, *pending, negID); err != nil {
			s.failNegotiation(err)
			return err
		}
	}
	callsStarted.WithLabelValues(string(callType)).Inc()
	s.log.Infof("answered %s (%s)", target, callType)
	return nil
}

// End hangs up: it notifies the remote party when one is known and always
// tears the session down to idle. Also used to decline an incoming call.
func (s *Session) End() {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	if s.State() == StateIdle && target == "" {
		return
	}
	if target != "" {
		if err := s.bus.Emit(signal.EventCallEnd, signal.CallEndPayload{TargetUserID: target}); err != nil {
			s.log.Warnf("emit %s: %v", signal.EventCallEnd, err)
		}
	}
	s.reset(StateIdle)
}

// ToggleMute flips the first local audio track. Returns the new muted
// state. Purely local; no signaling, no renegotiation.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = !s.muted
	if s.localStream != nil {
		if tracks := s.localStream.AudioTracks(); len(tracks) > 0 {
			tracks[0].SetEnabled(!s.muted)
		}
	}
	s.log.Infof("audio muted=%v", s.muted)
	return s.muted
}

// ToggleVideo flips the first local video track. Returns the new disabled
// state.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoOff = !s.videoOff
	if s.localStream != nil {
		if tracks := s.localStream.VideoTracks(); len(tracks) > 0 {
			tracks[0].SetEnabled(!s.videoOff)
		}
	}
	s.log.Infof("video disabled=%v", s.videoOff)
	return s.videoOff
}

// Close unsubscribes from the bus and tears down any active call.
func (s *Session) Close() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	s.reset(StateIdle)
}

// ── Signaling handlers ────────────────────────────────────────────────────────

func (s *Session) handleInitiate(env signal.Envelope) {
	var p signal.CallInitiatePayload
	if err := env.Decode(&p); err != nil {
		s.log.Warnf("bad %s payload: %v", env.Event, err)
		return
	}
	if s.State() != StateIdle {
		s.log.Infof("busy, ignoring ring from %s", env.From)
		return
	}
	callType := TypeVoice
	if p.CallType == string(TypeVideo) {
		callType = TypeVideo
	}
	s.mu.Lock()
	s.target = env.From
	s.callType = callType
	cb := s.OnIncoming
	s.mu.Unlock()
	s.log.Infof("incoming %s call from %s", callType, env.From)
	if cb != nil {
		cb(IncomingCall{CallerID: env.From, CallerName: p.CallerName, CallType: callType})
	}
}

func (s *Session) handleOffer(env signal.Envelope) {
	var p signal.CallOfferPayload
	if err := env.Decode(&p); err != nil {
		s.log.Warnf("bad %s payload: %v", env.Event, err)
		return
	}

	s.mu.Lock()
	if s.target != "" && env.From != s.target {
		s.mu.Unlock()
		s.log.Infof("offer from %s ignored, in call with %s", env.From, s.target)
		return
	}
	if s.target == "" {
		s.target = env.From
	}
	peer := s.peer
	target := s.target
	s.mu.Unlock()

	switch s.State() {
	case StateConnecting, StateConnected, StateReconnecting:
		// We already have a connection slot. A fresh offer here is either
		// the caller's initial offer racing our accept, or a remote ICE
		// restart; both are answered immediately.
		if peer != nil {
			if err := s.answerOffer(peer, target, p.Offer, p.NegotiationID); err != nil {
				s.log.Warnf("answer offer from %s: %v", env.From, err)
			}
			return
		}
		fallthrough
	default:
		s.mu.Lock()
		offer := p.Offer
		s.pendingOffer = &offer
		s.pendingNegID = p.NegotiationID
		s.mu.Unlock()
	}
}

func (s *Session) handleAnswer(env signal.Envelope) {
	var p signal.CallAnswerPayload
	if err := env.Decode(&p); err != nil {
		s.log.Warnf("bad %s payload: %v", env.Event, err)
		return
	}
	s.mu.Lock()
	peer := s.peer
	negID := s.negotiationID
	s.mu.Unlock()
	if peer == nil {
		s.log.Infof("answer from %s with no active peer, dropped", env.From)
		return
	}
	if p.NegotiationID != "" && negID != "" && p.NegotiationID != negID {
		s.log.Infof("stale answer from %s (negotiation %s), dropped", env.From, p.NegotiationID)
		return
	}
	if err := peer.ApplyAnswer(p.Answer); err != nil {
		s.log.Warnf("apply answer from %s: %v", env.From, err)
	}
}

func (s *Session) handleCandidate(env signal.Envelope) {
	var p signal.ICECandidatePayload
	if err := env.Decode(&p); err != nil {
		s.log.Warnf("bad %s payload: %v", env.Event, err)
		return
	}
	s.mu.Lock()
	peer := s.peer
	target := s.target
	s.mu.Unlock()
	if peer == nil || env.From != target {
		return
	}
	peer.AddRemoteCandidate(p.Candidate)
}

func (s *Session) handleRemoteEnd(env signal.Envelope) {
	s.mu.Lock()
	relevant := s.target == "" || env.From == s.target
	s.mu.Unlock()
	if !relevant || s.State() == StateIdle {
		return
	}
	s.log.Infof("call ended by %s", env.From)
	s.reset(StateIdle)
	s.notifyEnded()
}

// ── Connection feedback ───────────────────────────────────────────────────────

// handleConnState receives raw transport state for one peer. Reports from
// a superseded peer are dropped.
func (s *Session) handleConnState(peer *Peer, st media.ConnState) {
	s.mu.Lock()
	current := s.peer == peer
	s.mu.Unlock()
	if !current {
		return
	}
	s.log.Debugf("connection state %s", st)

	switch st {
	case media.StateChecking, media.StateConnecting:
		if err := s.sm.Event(context.Background(), "negotiate"); err == nil {
			s.notifyState(StateConnecting)
		}
	case media.StateConnected, media.StateCompleted:
		s.mu.Lock()
		s.attempts = 0
		s.stopReconnectTimer()
		s.mu.Unlock()
		if err := s.sm.Event(context.Background(), "establish"); err == nil {
			callsConnected.Inc()
			s.notifyState(StateConnected)
		}
	case media.StateDisconnected:
		if cur := s.State(); cur == StateConnected || cur == StateReconnecting {
			s.beginReconnect()
		}
	case media.StateFailed:
		s.mu.Lock()
		s.errMsg = "Connection failed."
		s.mu.Unlock()
		callsFailed.Inc()
		s.reset(StateFailed)
		s.notifyEnded()
	case media.StateClosed:
		if cur := s.State(); cur != StateIdle && cur != StateFailed && cur != StateError {
			s.reset(StateDisconnected)
			s.notifyEnded()
		}
	}
}

// beginReconnect runs one round of the bounded recovery protocol.
func (s *Session) beginReconnect() {
	s.mu.Lock()
	if s.attempts >= s.opts.MaxReconnectAttempts {
		s.errMsg = "Connection lost and could not be recovered."
		s.mu.Unlock()
		callsFailed.Inc()
		s.reset(StateFailed)
		s.notifyEnded()
		return
	}
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	if err := s.sm.Event(context.Background(), "drop"); err == nil {
		s.notifyState(StateReconnecting)
	}
	reconnectAttempts.Inc()
	s.log.Infof("reconnect attempt %d/%d in %s", attempt, s.opts.MaxReconnectAttempts, s.opts.ReconnectDelay)

	s.mu.Lock()
	s.stopReconnectTimer()
	s.reconnectTimer = s.clk.AfterFunc(s.opts.ReconnectDelay, s.attemptReconnect)
	s.mu.Unlock()
}

func (s *Session) attemptReconnect() {
	s.mu.Lock()
	peer := s.peer
	target := s.target
	s.mu.Unlock()
	if peer == nil || target == "" || s.State() != StateReconnecting {
		return
	}
	if err := s.sendOffer(peer, true); err != nil {
		s.log.Warnf("ice restart: %v", err)
		s.beginReconnect()
	}
}

// ── Internals ─────────────────────────────────────────────────────────────────

// acquireMedia captures local tracks for the call type, moving the session
// to error with a user-facing message when capture fails.
func (s *Session) acquireMedia(callType CallType) (media.Stream, error) {
	audio, video := callType.Constraints()
	stream, err := s.engine.GetUserMedia(media.Constraints{Audio: audio, Video: video})
	if err != nil {
		classified := media.ClassifyCaptureError(err)
		s.mu.Lock()
		s.errMsg = media.UserMessage(classified)
		s.mu.Unlock()
		s.reset(StateError)
		return nil, classified
	}
	s.mu.Lock()
	s.localStream = stream
	s.muted = false
	s.videoOff = false
	s.mu.Unlock()
	return stream, nil
}

// buildPeer creates the peer connection for the target and attaches the
// local tracks before any description work.
func (s *Session) buildPeer(target string, stream media.Stream) (*Peer, error) {
	var peer *Peer
	peer, err := NewPeer(s.engine, media.Config{ICEServers: s.opts.ICEServers}, target, PeerHooks{
		OnCandidate: func(c media.CandidateInit) {
			if err := s.bus.Emit(signal.EventICECandidate, signal.ICECandidatePayload{
				TargetUserID: target,
				Candidate:    c,
			}); err != nil {
				s.log.Warnf("emit %s: %v", signal.EventICECandidate, err)
			}
		},
		OnStateChange: func(st media.ConnState) {
			s.handleConnState(peer, st)
		},
		OnRemoteStream: func(remote media.Stream) {
			s.mu.Lock()
			s.remoteStream = remote
			s.mu.Unlock()
		},
	}, s.log)
	if err != nil {
		return nil, err
	}
	if err := peer.AttachLocalTracks(stream); err != nil {
		peer.Close()
		return nil, err
	}
	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()
	return peer, nil
}

// sendOffer creates a (possibly ICE-restart) offer under a fresh
// negotiation ID and emits it to the target.
func (s *Session) sendOffer(peer *Peer, restart bool) error {
	negID := uuid.NewString()
	s.mu.Lock()
	s.negotiationID = negID
	target := s.target
	s.mu.Unlock()

	var (
		offer media.Description
		err   error
	)
	if restart {
		offer, err = peer.RestartICE()
	} else {
		offer, err = peer.CreateOffer()
	}
	if err != nil {
		return err
	}
	return s.bus.Emit(signal.EventCallOffer, signal.CallOfferPayload{
		TargetUserID:  target,
		NegotiationID: negID,
		Offer:         offer,
	})
}

// answerOffer applies a remote offer on the peer and emits the answer,
// echoing the offer's negotiation ID.
func (s *Session) answerOffer(peer *Peer, target string, offer media.Description, negID string) error {
	answer, err := peer.AcceptOffer(offer)
	if err != nil {
		return err
	}
	return s.bus.Emit(signal.EventCallAnswer, signal.CallAnswerPayload{
		TargetUserID:  target,
		NegotiationID: negID,
		Answer:        answer,
	})
}

// failNegotiation handles offer/answer errors after media was acquired.
func (s *Session) failNegotiation(err error) {
	s.mu.Lock()
	s.errMsg = "Call setup failed."
	s.mu.Unlock()
	s.log.Warnf("negotiation: %v", err)
	callsFailed.Inc()
	s.reset(StateFailed)
}

// stopReconnectTimer must be called with s.mu held.
func (s *Session) stopReconnectTimer() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// reset is the single teardown path. It cancels timers, stops every local
// and remote track, closes the peer, and clears all per-call fields, then
// parks the state machine in the given terminal state. The error message
// survives only for failed and error so the UI can show it; every other
// destination clears it.
func (s *Session) reset(to State) {
	s.mu.Lock()
	s.stopReconnectTimer()
	peer := s.peer
	local := s.localStream
	remote := s.remoteStream
	s.peer = nil
	s.localStream = nil
	s.remoteStream = nil
	s.target = ""
	s.negotiationID = ""
	s.pendingOffer = nil
	s.pendingNegID = ""
	s.attempts = 0
	s.muted = false
	s.videoOff = false
	if to != StateFailed && to != StateError {
		s.errMsg = ""
	}
	s.mu.Unlock()

	if local != nil {
		local.Stop()
	}
	if remote != nil {
		remote.Stop()
	}
	if peer != nil {
		peer.Close()
	}

	if s.sm.Current() != string(to) {
		s.sm.SetState(string(to))
		s.notifyState(to)
	}
}

func (s *Session) notifyState(st State) {
	s.mu.Lock()
	cb := s.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

func (s *Session) notifyEnded() {
	s.mu.Lock()
	cb := s.OnEnded
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}
