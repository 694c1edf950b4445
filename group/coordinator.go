package group

import (
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/cartline/callkit/call"
	"github.com/cartline/callkit/media"
	"github.com/cartline/callkit/signal"
)

// Coordinator choreographs one group call at a time. The local media stream
// is shared read-only across every participant connection; only full
// cleanup stops its tracks, since stopping a shared track would silently
// break outgoing media on all peers.
type Coordinator struct {
	bus    signal.Bus
	engine media.Engine
	clk    clock.Clock
	opts   Options
	log    logging.LeveledLogger

	mu           sync.Mutex
	callID       string
	active       bool
	host         bool
	callType     call.CallType
	localStream  media.Stream
	participants map[string]*Participant
	ackTimer     *clock.Timer
	muted        bool
	videoOff     bool
	cancels      []func()

	// OnNotice receives user-facing failure notices. OnRoster fires after
	// every roster mutation. OnEnded fires when the call terminates for a
	// remote reason. All optional, invoked without the coordinator lock.
	OnNotice func(string)
	OnRoster func()
	OnEnded  func()
}

// NewCoordinator subscribes to the group call events and returns an
// inactive coordinator. Close unsubscribes.
func NewCoordinator(bus signal.Bus, engine media.Engine, opts Options, clk clock.Clock, lf logging.LoggerFactory) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	if opts.StartTimeout == 0 {
		opts.StartTimeout = DefaultOptions().StartTimeout
	}

	c := &Coordinator{
		bus:          bus,
		engine:       engine,
		clk:          clk,
		opts:         opts,
		log:          lf.NewLogger("group"),
		participants: map[string]*Participant{},
	}

	for event, h := range map[string]signal.Handler{
		signal.EventGroupStarted:           c.handleStarted,
		signal.EventGroupJoined:            c.handleJoined,
		signal.EventGroupParticipantJoined: c.handleParticipantJoined,
		signal.EventGroupOffer:             c.handleOffer,
		signal.EventGroupAnswer:            c.handleAnswer,
		signal.EventGroupICECandidate:      c.handleCandidate,
		signal.EventGroupParticipantLeft:   c.handleParticipantLeft,
		signal.EventGroupEnded:             c.handleEnded,
	} {
		c.cancels = append(c.cancels, bus.Subscribe(event, h))
	}
	return c
}

// Active reports whether a group call is in progress locally.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Host reports whether the local participant started the call.
func (c *Coordinator) Host() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

// CallID returns the server-assigned call identity, or "" before the start
// request is acknowledged.
func (c *Coordinator) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

// Participants returns a snapshot of the current roster.
func (c *Coordinator) Participants() []*Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	return out
}

// Start creates a group call as host. The role gate runs before any media
// or signaling side effect. The relay must acknowledge within StartTimeout
// or the call is abandoned with a notice.
func (c *Coordinator) Start(participantIDs []string, callType call.CallType) error {
	if !c.opts.Role.Elevated() {
		return ErrNotAuthorized
	}
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return errors.New("group: call already active")
	}
	c.active = true
	c.host = true
	c.callType = callType
	c.mu.Unlock()

	if err := c.acquireMedia(callType); err != nil {
		return err
	}

	if err := c.bus.Emit(signal.EventGroupStart, signal.GroupStartPayload{
		ParticipantIDs: participantIDs,
		CallType:       string(callType),
	}); err != nil {
		c.log.Warnf("emit %s: %v", signal.EventGroupStart, err)
	}

	c.mu.Lock()
	c.ackTimer = c.clk.AfterFunc(c.opts.StartTimeout, c.startTimedOut)
	c.mu.Unlock()

	groupCallsStarted.Inc()
	c.log.Infof("group call start requested, %d invitees (%s)", len(participantIDs), callType)
	return nil
}

// startTimedOut fires when no group_call_started acknowledgment arrived.
func (c *Coordinator) startTimedOut() {
	c.mu.Lock()
	pending := c.active && c.callID == ""
	c.mu.Unlock()
	if !pending {
		return
	}
	c.log.Warnf("group call start not acknowledged within %s", c.opts.StartTimeout)
	c.notify("Could not start the group call. Please try again.")
	c.cleanup()
}

// Join enters an existing call as guest. The joined event then carries the
// roster this side must initiate connections to.
func (c *Coordinator) Join(callID string, callType call.CallType) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return errors.New("group: call already active")
	}
	c.active = true
	c.host = false
	c.callID = callID
	c.callType = callType
	c.mu.Unlock()

	if err := c.acquireMedia(callType); err != nil {
		return err
	}

	if err := c.bus.Emit(signal.EventGroupJoin, signal.GroupJoinPayload{CallID: callID}); err != nil {
		c.log.Warnf("emit %s: %v", signal.EventGroupJoin, err)
	}
	c.log.Infof("joining group call %s (%s)", callID, callType)
	return nil
}

// Leave exits the call locally. Best-effort signaling when the call ID is
// known; cleanup always runs.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	callID := c.callID
	active := c.active
	c.mu.Unlock()
	if !active {
		return
	}
	if callID != "" {
		if err := c.bus.Emit(signal.EventGroupLeave, signal.GroupLeavePayload{CallID: callID}); err != nil {
			c.log.Warnf("emit %s: %v", signal.EventGroupLeave, err)
		}
	} else {
		c.log.Infof("leaving unacknowledged group call, local cleanup only")
	}
	c.cleanup()
}

// End terminates the call for everyone. Best-effort signaling when the
// call ID is known; cleanup always runs.
func (c *Coordinator) End() {
	c.mu.Lock()
	callID := c.callID
	active := c.active
	c.mu.Unlock()
	if !active {
		return
	}
	if callID != "" {
		if err := c.bus.Emit(signal.EventGroupEnd, signal.GroupEndPayload{CallID: callID}); err != nil {
			c.log.Warnf("emit %s: %v", signal.EventGroupEnd, err)
		}
	} else {
		c.log.Infof("ending unacknowledged group call, local cleanup only")
	}
	c.cleanup()
}

// ToggleMute flips the first local audio track. Purely local; the shared
// track stays attached to every connection.
func (c *Coordinator) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = !c.muted
	if c.localStream != nil {
		if tracks := c.localStream.AudioTracks(); len(tracks) > 0 {
			tracks[0].SetEnabled(!c.muted)
		}
	}
	c.log.Infof("audio muted=%v", c.muted)
	return c.muted
}

// ToggleVideo flips the first local video track.
func (c *Coordinator) ToggleVideo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoOff = !c.videoOff
	if c.localStream != nil {
		if tracks := c.localStream.VideoTracks(); len(tracks) > 0 {
			tracks[0].SetEnabled(!c.videoOff)
		}
	}
	c.log.Infof("video disabled=%v", c.videoOff)
	return c.videoOff
}

// Close unsubscribes every handler and runs full cleanup. Required on
// teardown so handlers do not leak across repeated call sessions.
func (c *Coordinator) Close() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	c.cleanup()
}

// ── Signaling handlers ────────────────────────────────────────────────────────

// handleStarted is the host path acknowledgment: the relay assigned a call
// ID and reports the authoritative roster. Placeholders only; each invitee
// initiates its own connection on join.
func (c *Coordinator) handleStarted(env signal.Envelope) {
	var p signal.GroupStartedPayload
	if err := env.Decode(&p); err != nil {
		c.log.Warnf("bad %s payload: %v", env.Event, err)
		return
	}
	c.mu.Lock()
	if !c.active || !c.host {
		c.mu.Unlock()
		return
	}
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	c.callID = p.CallID
	for _, info := range p.Participants {
		if info.UserID == c.opts.SelfID {
			continue
		}
		c.seedLocked(info)
	}
	c.mu.Unlock()
	c.log.Infof("group call %s started, %d participants invited", p.CallID, len(p.Participants))
	c.notifyRoster()
}

// handleJoined is the guest path: seed the roster, then initiate a
// connection to every participant already present.
func (c *Coordinator) handleJoined(env signal.Envelope) {
	var p signal.GroupJoinedPayload
	if err := env.Decode(&p); err != nil {
		c.log.Warnf("bad %s payload: %v", env.Event, err)
		return
	}
	c.mu.Lock()
	if !c.active || c.host || (c.callID != "" && p.CallID != c.callID) {
		c.mu.Unlock()
		return
	}
	c.callID = p.CallID
	var toConnect []*Participant
	for _, info := range p.Participants {
		if info.UserID == c.opts.SelfID {
			continue
		}
		toConnect = append(toConnect, c.seedLocked(info))
	}
	callID := c.callID
	c.mu.Unlock()

	c.log.Infof("joined group call %s, connecting to %d participants", callID, len(toConnect))
	for _, participant := range toConnect {
		if err := c.connectTo(participant, callID); err != nil {
			c.log.Warnf("connect to %s: %v", participant.UserID, err)
		}
	}
	c.notifyRoster()
}

// handleParticipantJoined announces a new arrival. Placeholder only; the
// newcomer initiates, which is what keeps two sides from offering at once.
func (c *Coordinator) handleParticipantJoined(env signal.Envelope) {
	var p signal.GroupParticipantJoinedPayload
	if err := env.Decode(&p); err != nil {
		c.log.Warnf("bad %s payload: %v", env.Event, err)
		return
	}
	c.mu.Lock()
	if !c.active || (p.CallID != "" && p.CallID != c.callID) || p.UserID == c.opts.SelfID {
		c.mu.Unlock()
		return
	}
	c.seedLocked(signal.ParticipantInfo{UserID: p.UserID, UserName: p.UserName})
	c.mu.Unlock()
	c.log.Infof("participant %s joined", p.UserID)
	c.notifyRoster()
}

// handleOffer answers an inbound offer, creating the participant's
// connection on demand.
func (c *Coordinator) handleOffer(env signal.Envelope) {
	var p signal.GroupOfferPayload
	if err := env.Decode(&p); err != nil {
		c.log.Warnf("bad %s payload: %v", env.Event, err)
		return
	}
	from := p.FromUserID
	if from == "" {
		from = env.From
	}
	c.mu.Lock()
	if !c.active || p.CallID != c.callID {
		c.mu.Unlock()
		return
	}
	participant := c.seedLocked(signal.ParticipantInfo{UserID: from})
	callID := c.callID
	local := c.localStream
	c.mu.Unlock()

	peer := participant.getPeer()
	if peer == nil {
		var err error
		peer, err = c.buildPeer(participant, callID)
		if err != nil {
			c.log.Warnf("peer for %s: %v", from, err)
			return
		}
		if err := peer.AttachLocalTracks(local); err != nil {
			c.log.Warnf("attach tracks for %s: %v", from, err)
		}
		participant.setPeer(peer)
	}

	answer, err := peer.AcceptOffer(p.Offer)
	if err != nil {
		c.log.Warnf("accept offer from %s: %v", from, err)
		return
	}
	if err := c.bus.Emit(signal.EventGroupAnswer, signal.GroupAnswerPayload{
		CallID:        callID,
		TargetUserID:  from,
		NegotiationID: p.NegotiationID,
		Answer:        answer,
	}); err != nil {
		c.log.Warnf("emit %s: %v", signal.EventGroupAnswer, err)
	}
	c.notifyRoster()
}

func (c *Coordinator) handleAnswer(env signal.Envelope) {
	var p signal.GroupAnswerPayload
	if err := env.Decode(&p); err != nil {
		c.log.Warnf("bad %s payload: %v", env.Event, err)
		return
	}
	from := p.FromUserID
	if from == "" {
		from = env.From
	}
	peer := c.peerFor(from, p.CallID)
	if peer == nil {
		c.log.Infof("answer from %s with no session, dropped", from)
		return
	}
	if err := peer.ApplyAnswer(p.Answer); err != nil {
		c.log.Warnf("apply answer from %s: %v", from, err)
	}
}

func (c *Coordinator) handleCandidate(env signal.Envelope) {
	var p signal.GroupICECandidatePayload
	if err := env.Decode(&p); err != nil {
		c.log.Warnf("bad %s payload: %v", env.Event, err)
		return
	}
	from := p.FromUserID
	if from == "" {
		from = env.From
	}
	peer := c.peerFor(from, p.CallID)
	if peer == nil {
		return
	}
	peer.AddRemoteCandidate(p.Candidate)
}

// handleParticipantLeft closes the leaver's connection and removes the
// roster entry entirely.
func (c *Coordinator) handleParticipantLeft(env signal.Envelope) {
	var p signal.GroupParticipantLeftPayload
	if err := env.Decode(&p); err != nil {
		c.log.Warnf("bad %s payload: %v", env.Event, err)
		return
	}
	c.mu.Lock()
	participant, ok := c.participants[p.UserID]
	if ok {
		delete(c.participants, p.UserID)
		participantsGauge.Set(float64(len(c.participants)))
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	peer, stream := participant.dropConn()
	if peer != nil {
		peer.Close()
	}
	if stream != nil {
		stream.Stop()
	}
	c.log.Infof("participant %s left", p.UserID)
	c.notifyRoster()
}

// handleEnded terminates the call for everyone: the host hung up.
func (c *Coordinator) handleEnded(env signal.Envelope) {
	if !c.Active() {
		return
	}
	c.log.Infof("group call ended by host")
	c.notify("The group call has ended.")
	c.cleanup()
	c.notifyEnded()
}

// ── Internals ─────────────────────────────────────────────────────────────────

// seedLocked adds a placeholder roster entry, or returns the existing one.
// Caller holds c.mu.
func (c *Coordinator) seedLocked(info signal.ParticipantInfo) *Participant {
	if p, ok := c.participants[info.UserID]; ok {
		if p.UserName == "" && info.UserName != "" {
			p.UserName = info.UserName
		}
		return p
	}
	p := &Participant{UserID: info.UserID, UserName: info.UserName}
	c.participants[info.UserID] = p
	participantsGauge.Set(float64(len(c.participants)))
	return p
}

func (c *Coordinator) peerFor(userID, callID string) *call.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || callID != c.callID {
		return nil
	}
	p, ok := c.participants[userID]
	if !ok {
		return nil
	}
	return p.getPeer()
}

// acquireMedia captures the shared local stream, cleaning up on failure.
func (c *Coordinator) acquireMedia(callType call.CallType) error {
	audio, video := callType.Constraints()
	stream, err := c.engine.GetUserMedia(media.Constraints{Audio: audio, Video: video})
	if err != nil {
		classified := media.ClassifyCaptureError(err)
		c.notify(media.UserMessage(classified))
		c.cleanup()
		return classified
	}
	c.mu.Lock()
	c.localStream = stream
	c.muted = false
	c.videoOff = false
	c.mu.Unlock()
	return nil
}

// buildPeer creates one participant connection with its hooks wired.
func (c *Coordinator) buildPeer(participant *Participant, callID string) (*call.Peer, error) {
	userID := participant.UserID
	return call.NewPeer(c.engine, media.Config{ICEServers: c.opts.ICEServers}, userID, call.PeerHooks{
		OnCandidate: func(cand media.CandidateInit) {
			if err := c.bus.Emit(signal.EventGroupICECandidate, signal.GroupICECandidatePayload{
				CallID:       callID,
				TargetUserID: userID,
				Candidate:    cand,
			}); err != nil {
				c.log.Warnf("emit %s: %v", signal.EventGroupICECandidate, err)
			}
		},
		OnStateChange: func(st media.ConnState) {
			c.log.Debugf("participant %s connection %s", userID, st)
			if st == media.StateFailed || st == media.StateClosed {
				peer, stream := participant.dropConn()
				if peer != nil {
					peer.Close()
				}
				if stream != nil {
					stream.Stop()
				}
				c.notifyRoster()
			}
		},
		OnRemoteStream: func(s media.Stream) {
			participant.setStream(s)
			c.notifyRoster()
		},
	}, c.log)
}

// connectTo runs the newcomer side of the choreography for one existing
// participant: connection, shared tracks, offer.
func (c *Coordinator) connectTo(participant *Participant, callID string) error {
	c.mu.Lock()
	local := c.localStream
	c.mu.Unlock()

	peer, err := c.buildPeer(participant, callID)
	if err != nil {
		return err
	}
	if err := peer.AttachLocalTracks(local); err != nil {
		peer.Close()
		return err
	}
	participant.setPeer(peer)

	offer, err := peer.CreateOffer()
	if err != nil {
		return err
	}
	return c.bus.Emit(signal.EventGroupOffer, signal.GroupOfferPayload{
		CallID:        callID,
		TargetUserID:  participant.UserID,
		NegotiationID: uuid.NewString(),
		Offer:         offer,
	})
}

// cleanup is the single full-teardown path: stop the shared local stream,
// close every participant connection, reset to the empty inactive state.
// Idempotent.
func (c *Coordinator) cleanup() {
	c.mu.Lock()
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	local := c.localStream
	parts := c.participants
	c.localStream = nil
	c.participants = map[string]*Participant{}
	c.callID = ""
	c.active = false
	c.host = false
	c.muted = false
	c.videoOff = false
	c.mu.Unlock()

	if local != nil {
		local.Stop()
	}
	for _, p := range parts {
		peer, stream := p.dropConn()
		if peer != nil {
			peer.Close()
		}
		if stream != nil {
			stream.Stop()
		}
	}
	participantsGauge.Set(0)
}

func (c *Coordinator) notify(msg string) {
	c.mu.Lock()
	cb := c.OnNotice
	c.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

func (c *Coordinator) notifyRoster() {
	c.mu.Lock()
	cb := c.OnRoster
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *Coordinator) notifyEnded() {
	c.mu.Lock()
	cb := c.OnEnded
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}
