package media

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// pliInterval is how often a keyframe is requested from remote video
// senders, so streams resync quickly after loss or an ICE restart.
const pliInterval = 3 * time.Second

// localSender is satisfied by capture tracks that can hand Pion their
// underlying TrackLocal.
type localSender interface {
	rtpTrack() webrtc.TrackLocal
}

// pionConn adapts *webrtc.PeerConnection to the PeerConn interface and
// aggregates inbound remote tracks into one Stream per connection.
type pionConn struct {
	pc  *webrtc.PeerConnection
	log logging.LeveledLogger

	mu            sync.Mutex
	remote        *remoteStream
	onCandidate   func(CandidateInit)
	onTrack       func(Stream)
	onState       func(ConnState)
	hasLocalTrack bool
	recvOnlySet   bool
	closed        bool

	done chan struct{}
}

func newPionConn(pc *webrtc.PeerConnection, log logging.LeveledLogger) *pionConn {
	c := &pionConn{
		pc:     pc,
		log:    log,
		remote: &remoteStream{},
		done:   make(chan struct{}),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		cb := c.onCandidate
		c.mu.Unlock()
		if cb != nil {
			init := cand.ToJSON()
			out := CandidateInit{Candidate: init.Candidate}
			if init.SDPMid != nil {
				out.SDPMid = *init.SDPMid
			}
			if init.SDPMLineIndex != nil {
				out.SDPMLineIndex = *init.SDPMLineIndex
			}
			cb(out)
		}
	})

	pc.OnTrack(func(tr *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		t := &remoteTrack{tr: tr}
		t.enabled = true
		c.remote.append(t)
		if tr.Kind() == webrtc.RTPCodecTypeVideo {
			go c.pliLoop(uint32(tr.SSRC()))
		}
		c.mu.Lock()
		cb := c.onTrack
		c.mu.Unlock()
		if cb != nil {
			cb(c.remote)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.fireState(connStateFromPeer(s))
	})
	// Pion's overall state has no checking/completed phases; forward those
	// two from the ICE layer so the state machine sees negotiation progress.
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		switch s {
		case webrtc.ICEConnectionStateChecking:
			c.fireState(StateChecking)
		case webrtc.ICEConnectionStateCompleted:
			c.fireState(StateCompleted)
		}
	})

	return c
}

func (c *pionConn) fireState(s ConnState) {
	c.mu.Lock()
	cb := c.onState
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func connStateFromPeer(s webrtc.PeerConnectionState) ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}

func (c *pionConn) AddTrack(t Track) error {
	ls, ok := t.(localSender)
	if !ok {
		return errors.New("media: track was not produced by this engine")
	}
	if _, err := c.pc.AddTrack(ls.rtpTrack()); err != nil {
		return err
	}
	c.mu.Lock()
	c.hasLocalTrack = true
	c.mu.Unlock()
	return nil
}

// ensureDirections adds recvonly transceivers when no local track was
// attached, so CreateOffer/CreateAnswer always produce valid m-lines with
// ICE credentials.
func (c *pionConn) ensureDirections() {
	c.mu.Lock()
	needed := !c.hasLocalTrack && !c.recvOnlySet
	if needed {
		c.recvOnlySet = true
	}
	c.mu.Unlock()
	if !needed {
		return
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			c.log.Warnf("AddTransceiver(%s): %v", kind, err)
		}
	}
}

func (c *pionConn) CreateOffer(opts *OfferOptions) (Description, error) {
	c.ensureDirections()
	var po *webrtc.OfferOptions
	if opts != nil && opts.ICERestart {
		po = &webrtc.OfferOptions{ICERestart: true}
	}
	sd, err := c.pc.CreateOffer(po)
	if err != nil {
		return Description{}, err
	}
	return Description{Type: sd.Type.String(), SDP: sd.SDP}, nil
}

func (c *pionConn) CreateAnswer() (Description, error) {
	c.ensureDirections()
	sd, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, err
	}
	return Description{Type: sd.Type.String(), SDP: sd.SDP}, nil
}

func (c *pionConn) SetLocalDescription(d Description) error {
	return c.pc.SetLocalDescription(toPionDescription(d))
}

func (c *pionConn) SetRemoteDescription(d Description) error {
	return c.pc.SetRemoteDescription(toPionDescription(d))
}

func (c *pionConn) LocalDescription() (Description, bool) {
	return fromPionDescription(c.pc.LocalDescription())
}

func (c *pionConn) RemoteDescription() (Description, bool) {
	return fromPionDescription(c.pc.RemoteDescription())
}

func (c *pionConn) AddICECandidate(cand CandidateInit) error {
	init := webrtc.ICECandidateInit{Candidate: cand.Candidate}
	if cand.SDPMid != "" {
		mid := cand.SDPMid
		init.SDPMid = &mid
	}
	line := cand.SDPMLineIndex
	init.SDPMLineIndex = &line
	return c.pc.AddICECandidate(init)
}

func (c *pionConn) OnICECandidate(fn func(CandidateInit)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *pionConn) OnTrack(fn func(Stream)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *pionConn) OnConnectionStateChange(fn func(ConnState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *pionConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	return c.pc.Close()
}

// pliLoop periodically requests a keyframe from the remote sender of one
// video track until the connection closes.
func (c *pionConn) pliLoop(ssrc uint32) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: ssrc},
			}); err != nil {
				return
			}
		}
	}
}

func toPionDescription(d Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func fromPionDescription(sd *webrtc.SessionDescription) (Description, bool) {
	if sd == nil {
		return Description{}, false
	}
	return Description{Type: sd.Type.String(), SDP: sd.SDP}, true
}

// remoteStream aggregates the remote tracks received on one connection.
type remoteStream struct {
	trackSet
}

// remoteTrack wraps an inbound Pion track. Stop is a no-op; inbound reads
// end when the connection closes.
type remoteTrack struct {
	enabledFlag
	tr *webrtc.TrackRemote
}

func (t *remoteTrack) ID() string { return t.tr.ID() }

func (t *remoteTrack) Kind() Kind {
	if t.tr.Kind() == webrtc.RTPCodecTypeAudio {
		return KindAudio
	}
	return KindVideo
}

func (t *remoteTrack) Stop() {}
