package callkit

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartline/callkit/call"
	"github.com/cartline/callkit/config"
	"github.com/cartline/callkit/internal/testkit"
	"github.com/cartline/callkit/signal"
)

func testConfig(userID, role string) config.Config {
	cfg := config.Default()
	cfg.Identity.UserID = userID
	cfg.Identity.DisplayName = userID
	cfg.Identity.Role = role
	return cfg
}

func newTestClient(t *testing.T, mesh *signal.Mesh, userID, role string) (*Client, *testkit.Engine) {
	t.Helper()
	engine := testkit.NewEngine()
	c, err := New(testConfig(userID, role), mesh.Endpoint(userID),
		WithEngine(engine), WithClock(clock.NewMock()))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, engine
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	mesh := signal.NewMesh()
	_, err := New(config.Default(), mesh.Endpoint("x"), WithEngine(testkit.NewEngine()))
	require.Error(t, err)
}

func TestClientOneToOneCallFlow(t *testing.T) {
	mesh := signal.NewMesh()
	alice, _ := newTestClient(t, mesh, "alice", "buyer")
	bob, _ := newTestClient(t, mesh, "bob", "buyer")

	var incoming []call.IncomingCall
	bob.Session().OnIncoming = func(ic call.IncomingCall) { incoming = append(incoming, ic) }

	require.NoError(t, alice.StartCall("bob", call.TypeVoice))
	assert.Equal(t, call.StateRinging, alice.Session().State())
	require.Len(t, incoming, 1)
	assert.Equal(t, "alice", incoming[0].CallerID)

	require.NoError(t, bob.AnswerCall())
	assert.Equal(t, call.StateConnecting, bob.Session().State())

	alice.EndCall()
	assert.Equal(t, call.StateIdle, alice.Session().State())
	assert.Equal(t, call.StateIdle, bob.Session().State())
}

func TestClientGroupCallRequiresAdmin(t *testing.T) {
	mesh := signal.NewMesh()
	mesh.ServiceEndpoint()
	buyer, _ := newTestClient(t, mesh, "carol", "buyer")
	admin, _ := newTestClient(t, mesh, "root", "admin")

	require.Error(t, buyer.StartGroupCall([]string{"ann"}, call.TypeVoice))
	require.NoError(t, admin.StartGroupCall([]string{"ann"}, call.TypeVoice))
	assert.True(t, admin.Group().Active())
}

func TestClientTogglesRouteToActiveSurface(t *testing.T) {
	mesh := signal.NewMesh()
	mesh.ServiceEndpoint()
	c, engine := newTestClient(t, mesh, "carol", "buyer")

	require.NoError(t, c.JoinGroupCall("g1", call.TypeVideo))
	require.True(t, c.Group().Active())

	assert.True(t, c.ToggleMute())
	local := engine.Streams()[0]
	assert.False(t, local.AudioTracks()[0].Enabled())

	assert.True(t, c.ToggleVideo())
	assert.False(t, local.VideoTracks()[0].Enabled())

	c.LeaveGroupCall()
	assert.False(t, c.Group().Active())
}
