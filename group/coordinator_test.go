package group

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartline/callkit/call"
	"github.com/cartline/callkit/internal/testkit"
	"github.com/cartline/callkit/media"
	"github.com/cartline/callkit/signal"
)

type groupFixture struct {
	mesh    *signal.Mesh
	bus     *signal.MemoryBus
	engine  *testkit.Engine
	clk     *clock.Mock
	coord   *Coordinator
	mu      sync.Mutex
	notices []string
}

func newGroupFixture(t *testing.T, role Role) *groupFixture {
	t.Helper()
	f := &groupFixture{
		mesh:   signal.NewMesh(),
		engine: testkit.NewEngine(),
		clk:    clock.NewMock(),
	}
	f.bus = f.mesh.Endpoint("carol")
	f.mesh.ServiceEndpoint()
	f.coord = NewCoordinator(f.bus, f.engine, Options{
		SelfID:       "carol",
		Role:         role,
		StartTimeout: 5 * time.Second,
	}, f.clk, nil)
	f.coord.OnNotice = func(msg string) {
		f.mu.Lock()
		f.notices = append(f.notices, msg)
		f.mu.Unlock()
	}
	t.Cleanup(f.coord.Close)
	return f
}

func (f *groupFixture) noticeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices)
}

func (f *groupFixture) rosterIDs() []string {
	var ids []string
	for _, p := range f.coord.Participants() {
		ids = append(ids, p.UserID)
	}
	return ids
}

// recordOffers subscribes on a remote identity's endpoint and records every
// group offer delivered to it.
func recordOffers(t *testing.T, mesh *signal.Mesh, userID string) *[]signal.GroupOfferPayload {
	t.Helper()
	var out []signal.GroupOfferPayload
	mesh.Endpoint(userID).Subscribe(signal.EventGroupOffer, func(env signal.Envelope) {
		var p signal.GroupOfferPayload
		require.NoError(t, env.Decode(&p))
		out = append(out, p)
	})
	return &out
}

func TestStartRequiresElevatedRole(t *testing.T) {
	for _, role := range []Role{RoleSeller, RoleBuyer} {
		t.Run(string(role), func(t *testing.T) {
			f := newGroupFixture(t, role)
			err := f.coord.Start([]string{"dave"}, call.TypeVoice)
			require.ErrorIs(t, err, ErrNotAuthorized)

			// Rejected synchronously: no media, no signaling, no state.
			assert.Empty(t, f.engine.Streams())
			assert.False(t, f.coord.Active())
		})
	}
}

func TestStartAckSeedsRosterAndCancelsTimeout(t *testing.T) {
	f := newGroupFixture(t, RoleAdmin)
	require.NoError(t, f.coord.Start([]string{"ann", "ben"}, call.TypeVideo))
	require.True(t, f.coord.Active())
	require.True(t, f.coord.Host())

	require.NoError(t, f.bus.Inject(signal.EventGroupStarted, "", signal.GroupStartedPayload{
		CallID: "g1",
		Participants: []signal.ParticipantInfo{
			{UserID: "ann", UserName: "Ann"},
			{UserID: "ben", UserName: "Ben"},
		},
	}))

	assert.Equal(t, "g1", f.coord.CallID())
	assert.ElementsMatch(t, []string{"ann", "ben"}, f.rosterIDs())
	// Placeholders only; invitees connect when they join.
	assert.Empty(t, f.engine.Conns())

	f.clk.Add(10 * time.Second)
	assert.True(t, f.coord.Active(), "ack must cancel the start timeout")
	assert.Zero(t, f.noticeCount())
}

func TestStartTimeoutRaisesNoticeExactlyOnce(t *testing.T) {
	f := newGroupFixture(t, RoleAdmin)
	require.NoError(t, f.coord.Start([]string{"ann"}, call.TypeVoice))

	f.clk.Add(5 * time.Second)
	assert.False(t, f.coord.Active())
	assert.Equal(t, 1, f.noticeCount())
	assert.True(t, f.engine.Streams()[0].Stopped())

	f.clk.Add(5 * time.Second)
	assert.Equal(t, 1, f.noticeCount())
}

func TestGuestJoinInitiatesOfferToEveryParticipant(t *testing.T) {
	f := newGroupFixture(t, RoleBuyer)
	annOffers := recordOffers(t, f.mesh, "ann")
	benOffers := recordOffers(t, f.mesh, "ben")
	carolOffers := recordOffers(t, f.mesh, "carol")

	require.NoError(t, f.coord.Join("g1", call.TypeVoice))
	require.NoError(t, f.bus.Inject(signal.EventGroupJoined, "", signal.GroupJoinedPayload{
		CallID:   "g1",
		CallType: "voice",
		Participants: []signal.ParticipantInfo{
			{UserID: "ann"},
			{UserID: "ben"},
			{UserID: "carol"},
		},
	}))

	// Exactly one offer per existing participant, none to self.
	assert.Len(t, *annOffers, 1)
	assert.Len(t, *benOffers, 1)
	assert.Empty(t, *carolOffers)
	assert.Len(t, f.engine.Conns(), 2)
	assert.ElementsMatch(t, []string{"ann", "ben"}, f.rosterIDs())

	// Local tracks are shared across both connections.
	for _, conn := range f.engine.Conns() {
		assert.Len(t, conn.LocalTracks(), 1)
	}
}

func TestParticipantJoinedSeedsPlaceholderOnly(t *testing.T) {
	f := newGroupFixture(t, RoleAdmin)
	daveOffers := recordOffers(t, f.mesh, "dave")

	require.NoError(t, f.coord.Start(nil, call.TypeVoice))
	require.NoError(t, f.bus.Inject(signal.EventGroupStarted, "", signal.GroupStartedPayload{CallID: "g1"}))
	require.NoError(t, f.bus.Inject(signal.EventGroupParticipantJoined, "", signal.GroupParticipantJoinedPayload{
		CallID: "g1", UserID: "dave", UserName: "Dave",
	}))

	assert.ElementsMatch(t, []string{"dave"}, f.rosterIDs())
	assert.Empty(t, *daveOffers, "the newcomer initiates, not the host")
	assert.Empty(t, f.engine.Conns())
	assert.False(t, f.coord.Participants()[0].Connected())
}

func TestInboundOfferGetsAnswered(t *testing.T) {
	f := newGroupFixture(t, RoleAdmin)

	var answers []signal.GroupAnswerPayload
	f.mesh.Endpoint("dave").Subscribe(signal.EventGroupAnswer, func(env signal.Envelope) {
		var p signal.GroupAnswerPayload
		require.NoError(t, env.Decode(&p))
		answers = append(answers, p)
	})

	require.NoError(t, f.coord.Start(nil, call.TypeVoice))
	require.NoError(t, f.bus.Inject(signal.EventGroupStarted, "", signal.GroupStartedPayload{CallID: "g1"}))
	require.NoError(t, f.bus.Inject(signal.EventGroupOffer, "dave", signal.GroupOfferPayload{
		CallID:        "g1",
		FromUserID:    "dave",
		NegotiationID: "n1",
		Offer:         media.Description{Type: media.DescriptionOffer, SDP: "dave-offer"},
	}))

	require.Len(t, answers, 1)
	assert.Equal(t, "n1", answers[0].NegotiationID)
	assert.Equal(t, "g1", answers[0].CallID)

	require.Len(t, f.engine.Conns(), 1)
	remote, ok := f.engine.Conns()[0].RemoteDescription()
	require.True(t, ok)
	assert.Equal(t, "dave-offer", remote.SDP)
	assert.True(t, f.coord.Participants()[0].Connected())
}

func TestOfferForWrongCallIgnored(t *testing.T) {
	f := newGroupFixture(t, RoleAdmin)
	require.NoError(t, f.coord.Start(nil, call.TypeVoice))
	require.NoError(t, f.bus.Inject(signal.EventGroupStarted, "", signal.GroupStartedPayload{CallID: "g1"}))

	require.NoError(t, f.bus.Inject(signal.EventGroupOffer, "dave", signal.GroupOfferPayload{
		CallID: "other-call",
		Offer:  media.Description{Type: media.DescriptionOffer, SDP: "x"},
	}))
	assert.Empty(t, f.engine.Conns())
	assert.Empty(t, f.rosterIDs())
}

func TestParticipantLeftRemovesExactlyThatEntry(t *testing.T) {
	f := newGroupFixture(t, RoleBuyer)
	require.NoError(t, f.coord.Join("g1", call.TypeVoice))
	require.NoError(t, f.bus.Inject(signal.EventGroupJoined, "", signal.GroupJoinedPayload{
		CallID: "g1",
		Participants: []signal.ParticipantInfo{
			{UserID: "ann"}, {UserID: "ben"},
		},
	}))
	require.Len(t, f.engine.Conns(), 2)
	annConn := f.engine.Conns()[0]

	require.NoError(t, f.bus.Inject(signal.EventGroupParticipantLeft, "", signal.GroupParticipantLeftPayload{UserID: "ann"}))

	assert.ElementsMatch(t, []string{"ben"}, f.rosterIDs())
	assert.True(t, annConn.Closed())
	assert.False(t, f.engine.Conns()[1].Closed())
}

func TestFailedConnectionNulledInPlace(t *testing.T) {
	f := newGroupFixture(t, RoleBuyer)
	require.NoError(t, f.coord.Join("g1", call.TypeVoice))
	require.NoError(t, f.bus.Inject(signal.EventGroupJoined, "", signal.GroupJoinedPayload{
		CallID:       "g1",
		Participants: []signal.ParticipantInfo{{UserID: "ann"}},
	}))

	f.engine.Conns()[0].FireState(media.StateFailed)

	// The roster entry persists; only the connection is gone.
	require.ElementsMatch(t, []string{"ann"}, f.rosterIDs())
	assert.False(t, f.coord.Participants()[0].Connected())
	assert.True(t, f.engine.Conns()[0].Closed())
}

func TestHostEndedNoticeAndCleanup(t *testing.T) {
	f := newGroupFixture(t, RoleBuyer)
	ended := 0
	f.coord.OnEnded = func() { ended++ }

	require.NoError(t, f.coord.Join("g1", call.TypeVoice))
	require.NoError(t, f.bus.Inject(signal.EventGroupJoined, "", signal.GroupJoinedPayload{
		CallID:       "g1",
		Participants: []signal.ParticipantInfo{{UserID: "ann"}},
	}))

	require.NoError(t, f.bus.Inject(signal.EventGroupEnded, "", signal.GroupEndedPayload{}))

	assert.False(t, f.coord.Active())
	assert.Empty(t, f.rosterIDs())
	assert.Equal(t, 1, f.noticeCount())
	assert.Equal(t, 1, ended)
	assert.True(t, f.engine.Streams()[0].Stopped())
	assert.True(t, f.engine.Conns()[0].Closed())
}

func TestLeaveAlwaysCleansUp(t *testing.T) {
	f := newGroupFixture(t, RoleBuyer)
	require.NoError(t, f.coord.Join("g1", call.TypeVoice))
	require.NoError(t, f.bus.Inject(signal.EventGroupJoined, "", signal.GroupJoinedPayload{
		CallID:       "g1",
		Participants: []signal.ParticipantInfo{{UserID: "ann"}},
	}))

	f.coord.Leave()
	assert.False(t, f.coord.Active())
	assert.Empty(t, f.rosterIDs())
	assert.True(t, f.engine.Streams()[0].Stopped())

	// Idempotent.
	f.coord.Leave()
	assert.False(t, f.coord.Active())
}

func TestMuteIsPurelyLocal(t *testing.T) {
	f := newGroupFixture(t, RoleBuyer)
	require.NoError(t, f.coord.Join("g1", call.TypeVideo))
	require.NoError(t, f.bus.Inject(signal.EventGroupJoined, "", signal.GroupJoinedPayload{
		CallID:       "g1",
		Participants: []signal.ParticipantInfo{{UserID: "ann"}},
	}))

	remote := testkit.NewStream(testkit.NewTrack("r", media.KindAudio))
	f.engine.Conns()[0].FireTrack(remote)

	local := f.engine.Streams()[0]
	assert.True(t, f.coord.ToggleMute())
	assert.False(t, local.AudioTracks()[0].Enabled())
	assert.True(t, local.VideoTracks()[0].Enabled())

	assert.False(t, f.engine.Conns()[0].Closed())
	assert.NotNil(t, f.coord.Participants()[0].Stream())
	assert.True(t, remote.Tracks()[0].Enabled())
}
