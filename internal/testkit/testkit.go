// Package testkit provides fake media primitives for driving the call core
// deterministically in tests: a scriptable Engine whose connections record
// every description and candidate, and whose transport events are fired by
// hand.
package testkit

import (
	"fmt"
	"sync"

	"github.com/cartline/callkit/media"
)

// Track is a fake media track.
type Track struct {
	TrackID   string
	TrackKind media.Kind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func NewTrack(id string, kind media.Kind) *Track {
	return &Track{TrackID: id, TrackKind: kind, enabled: true}
}

func (t *Track) ID() string       { return t.TrackID }
func (t *Track) Kind() media.Kind { return t.TrackKind }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Stopped reports whether Stop was called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream is a fake media stream over fixed tracks.
type Stream struct {
	tracks []media.Track
}

func NewStream(tracks ...media.Track) *Stream { return &Stream{tracks: tracks} }

func (s *Stream) Tracks() []media.Track { return append([]media.Track(nil), s.tracks...) }

func (s *Stream) AudioTracks() []media.Track { return s.kind(media.KindAudio) }
func (s *Stream) VideoTracks() []media.Track { return s.kind(media.KindVideo) }

func (s *Stream) kind(k media.Kind) []media.Track {
	var out []media.Track
	for _, t := range s.tracks {
		if t.Kind() == k {
			out = append(out, t)
		}
	}
	return out
}

func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Stopped reports whether every track was stopped.
func (s *Stream) Stopped() bool {
	for _, t := range s.tracks {
		if ft, ok := t.(*Track); ok && !ft.Stopped() {
			return false
		}
	}
	return len(s.tracks) > 0
}

// Conn is a fake peer connection. Fire* methods simulate transport events.
type Conn struct {
	mu          sync.Mutex
	localDesc   *media.Description
	remoteDesc  *media.Description
	tracks      []media.Track
	candidates  []media.CandidateInit
	offerSeq    int
	restarts    int
	closed      bool
	onCandidate func(media.CandidateInit)
	onTrack     func(media.Stream)
	onState     func(media.ConnState)

	// Scriptable failures.
	AddICECandidateErr error
	OfferErr           error
}

func (c *Conn) AddTrack(t media.Track) error {
	c.mu.Lock()
	c.tracks = append(c.tracks, t)
	c.mu.Unlock()
	return nil
}

func (c *Conn) CreateOffer(opts *media.OfferOptions) (media.Description, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OfferErr != nil {
		return media.Description{}, c.OfferErr
	}
	c.offerSeq++
	sdp := fmt.Sprintf("offer-%d", c.offerSeq)
	if opts != nil && opts.ICERestart {
		c.restarts++
		sdp = fmt.Sprintf("restart-offer-%d", c.restarts)
	}
	return media.Description{Type: media.DescriptionOffer, SDP: sdp}, nil
}

func (c *Conn) CreateAnswer() (media.Description, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offerSeq++
	return media.Description{Type: media.DescriptionAnswer, SDP: fmt.Sprintf("answer-%d", c.offerSeq)}, nil
}

func (c *Conn) SetLocalDescription(d media.Description) error {
	c.mu.Lock()
	c.localDesc = &d
	c.mu.Unlock()
	return nil
}

func (c *Conn) SetRemoteDescription(d media.Description) error {
	c.mu.Lock()
	c.remoteDesc = &d
	c.mu.Unlock()
	return nil
}

func (c *Conn) LocalDescription() (media.Description, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localDesc == nil {
		return media.Description{}, false
	}
	return *c.localDesc, true
}

func (c *Conn) RemoteDescription() (media.Description, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteDesc == nil {
		return media.Description{}, false
	}
	return *c.remoteDesc, true
}

func (c *Conn) AddICECandidate(cand media.CandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AddICECandidateErr != nil {
		return c.AddICECandidateErr
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *Conn) OnICECandidate(fn func(media.CandidateInit)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *Conn) OnTrack(fn func(media.Stream)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Conn) OnConnectionStateChange(fn func(media.ConnState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// FireICECandidate simulates local candidate discovery.
func (c *Conn) FireICECandidate(cand media.CandidateInit) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn != nil {
		fn(cand)
	}
}

// FireTrack simulates a remote stream arriving.
func (c *Conn) FireTrack(s media.Stream) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// FireState simulates a transport state report.
func (c *Conn) FireState(st media.ConnState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Restarts returns how many ICE-restart offers were created.
func (c *Conn) Restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}

// LocalTracks returns the tracks added via AddTrack.
func (c *Conn) LocalTracks() []media.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]media.Track(nil), c.tracks...)
}

// RemoteCandidates returns the candidates applied via AddICECandidate.
func (c *Conn) RemoteCandidates() []media.CandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]media.CandidateInit(nil), c.candidates...)
}

// Engine is a fake media engine. Connections and capture streams are
// recorded in creation order for assertions.
type Engine struct {
	mu      sync.Mutex
	conns   []*Conn
	streams []*Stream

	// CaptureErr, when set, makes GetUserMedia fail.
	CaptureErr error
}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) NewPeerConn(_ media.Config) (media.PeerConn, error) {
	c := &Conn{}
	e.mu.Lock()
	e.conns = append(e.conns, c)
	e.mu.Unlock()
	return c, nil
}

func (e *Engine) GetUserMedia(c media.Constraints) (media.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CaptureErr != nil {
		return nil, e.CaptureErr
	}
	n := len(e.streams)
	var tracks []media.Track
	if c.Audio {
		tracks = append(tracks, NewTrack(fmt.Sprintf("audio-%d", n), media.KindAudio))
	}
	if c.Video {
		tracks = append(tracks, NewTrack(fmt.Sprintf("video-%d", n), media.KindVideo))
	}
	s := NewStream(tracks...)
	e.streams = append(e.streams, s)
	return s, nil
}

// Conns returns every connection created so far, in creation order.
func (e *Engine) Conns() []*Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Conn(nil), e.conns...)
}

// Streams returns every capture stream handed out so far.
func (e *Engine) Streams() []*Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Stream(nil), e.streams...)
}
