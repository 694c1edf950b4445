package call

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartline/callkit/internal/testkit"
	"github.com/cartline/callkit/media"
)

func newPeerPair(t *testing.T) (*Peer, *Peer, *testkit.Engine) {
	t.Helper()
	engine := testkit.NewEngine()
	a, err := NewPeer(engine, media.Config{}, "b", PeerHooks{}, nil)
	require.NoError(t, err)
	b, err := NewPeer(engine, media.Config{}, "a", PeerHooks{}, nil)
	require.NoError(t, err)
	return a, b, engine
}

func TestPeerOfferAnswerRoundTrip(t *testing.T) {
	a, b, engine := newPeerPair(t)

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, media.DescriptionOffer, offer.Type)

	answer, err := b.AcceptOffer(offer)
	require.NoError(t, err)
	assert.Equal(t, media.DescriptionAnswer, answer.Type)

	require.NoError(t, a.ApplyAnswer(answer))

	connA, connB := engine.Conns()[0], engine.Conns()[1]
	local, _ := connA.LocalDescription()
	remote, _ := connA.RemoteDescription()
	assert.Equal(t, media.DescriptionOffer, local.Type)
	assert.Equal(t, media.DescriptionAnswer, remote.Type)

	local, _ = connB.LocalDescription()
	remote, _ = connB.RemoteDescription()
	assert.Equal(t, media.DescriptionAnswer, local.Type)
	assert.Equal(t, media.DescriptionOffer, remote.Type)
}

func TestPeerAnswerBeforeOfferRejected(t *testing.T) {
	a, _, _ := newPeerPair(t)
	err := a.ApplyAnswer(media.Description{Type: media.DescriptionAnswer, SDP: "x"})
	require.Error(t, err)
}

func TestPeerAttachesEveryLocalTrack(t *testing.T) {
	a, _, engine := newPeerPair(t)
	stream := testkit.NewStream(
		testkit.NewTrack("audio", media.KindAudio),
		testkit.NewTrack("video", media.KindVideo),
	)
	require.NoError(t, a.AttachLocalTracks(stream))
	assert.Len(t, engine.Conns()[0].LocalTracks(), 2)

	// Nil stream means receive-only, not an error.
	require.NoError(t, a.AttachLocalTracks(nil))
}

func TestPeerSwallowsCandidateFailures(t *testing.T) {
	a, _, engine := newPeerPair(t)
	engine.Conns()[0].AddICECandidateErr = errors.New("unknown ufrag")

	// Late/duplicate candidates routinely fail; must not panic or escalate.
	a.AddRemoteCandidate(media.CandidateInit{Candidate: "candidate:late"})
	assert.Empty(t, engine.Conns()[0].RemoteCandidates())
}

func TestPeerCloseIdempotentAndKeepsTracks(t *testing.T) {
	a, _, engine := newPeerPair(t)
	track := testkit.NewTrack("audio", media.KindAudio)
	require.NoError(t, a.AttachLocalTracks(testkit.NewStream(track)))

	a.Close()
	a.Close()
	assert.True(t, engine.Conns()[0].Closed())
	assert.False(t, track.Stopped(), "closing the connection must not stop tracks")
}

func TestPeerHooksForwardEvents(t *testing.T) {
	engine := testkit.NewEngine()
	var cands []media.CandidateInit
	var states []media.ConnState
	var streams []media.Stream
	p, err := NewPeer(engine, media.Config{}, "b", PeerHooks{
		OnCandidate:    func(c media.CandidateInit) { cands = append(cands, c) },
		OnStateChange:  func(s media.ConnState) { states = append(states, s) },
		OnRemoteStream: func(s media.Stream) { streams = append(streams, s) },
	}, nil)
	require.NoError(t, err)

	conn := engine.Conns()[0]
	conn.FireICECandidate(media.CandidateInit{Candidate: "candidate:1"})
	conn.FireState(media.StateChecking)
	remote := testkit.NewStream(testkit.NewTrack("r", media.KindAudio))
	conn.FireTrack(remote)

	assert.Len(t, cands, 1)
	assert.Equal(t, []media.ConnState{media.StateChecking}, states)
	require.Len(t, streams, 1)
	assert.Same(t, media.Stream(remote), p.RemoteStream())
}
