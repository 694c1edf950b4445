// Package callkit is the client-side call core for the platform's
// messaging feature: 1:1 and group audio/video calls signaled through a
// relay that never touches media. The Client is a thin control surface
// over the call session and the group coordinator; it holds no call state
// of its own.
package callkit

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"

	"github.com/cartline/callkit/call"
	"github.com/cartline/callkit/config"
	"github.com/cartline/callkit/group"
	"github.com/cartline/callkit/media"
	"github.com/cartline/callkit/signal"
)

// Option customizes a Client. Primarily for tests, which substitute a fake
// engine and a mock clock.
type Option func(*clientOpts)

type clientOpts struct {
	engine media.Engine
	clk    clock.Clock
	lf     logging.LoggerFactory
}

// WithEngine replaces the default Pion-backed media engine.
func WithEngine(e media.Engine) Option { return func(o *clientOpts) { o.engine = e } }

// WithClock replaces the wall clock driving reconnect and timeout timers.
func WithClock(c clock.Clock) Option { return func(o *clientOpts) { o.clk = c } }

// WithLoggerFactory replaces the default logger factory.
func WithLoggerFactory(lf logging.LoggerFactory) Option { return func(o *clientOpts) { o.lf = lf } }

// Client composes one 1:1 call slot and one group call coordinator over a
// shared signaling bus and media engine.
type Client struct {
	bus     signal.Bus
	session *call.Session
	group   *group.Coordinator

	// ownedRelay is closed with the client when Dial built the bus.
	ownedRelay *signal.Relay
}

// New builds a client on an existing bus. The configuration must validate.
func New(cfg config.Config, bus signal.Bus, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var o clientOpts
	for _, opt := range opts {
		opt(&o)
	}
	if o.lf == nil {
		o.lf = logging.NewDefaultLoggerFactory()
	}
	if o.engine == nil {
		ec := media.DefaultEngineConfig()
		ec.ICEServers = cfg.ICE.Servers
		if cfg.ICE.DisconnectedTimeoutSec > 0 {
			ec.DisconnectedTimeout = time.Duration(cfg.ICE.DisconnectedTimeoutSec) * time.Second
		}
		if cfg.ICE.FailedTimeoutSec > 0 {
			ec.FailedTimeout = time.Duration(cfg.ICE.FailedTimeoutSec) * time.Second
		}
		if cfg.ICE.KeepaliveIntervalSec > 0 {
			ec.KeepAliveInterval = time.Duration(cfg.ICE.KeepaliveIntervalSec) * time.Second
		}
		ec.MaxWidth = cfg.Media.MaxWidth
		ec.MaxHeight = cfg.Media.MaxHeight
		ec.VideoBitRate = cfg.Media.VideoBitRate

		engine, err := media.NewWebRTCEngine(ec, o.lf)
		if err != nil {
			return nil, fmt.Errorf("media engine: %w", err)
		}
		o.engine = engine
	}

	session := call.NewSession(bus, o.engine, call.Options{
		SelfName:             cfg.Identity.DisplayName,
		ICEServers:           cfg.ICE.Servers,
		MaxReconnectAttempts: cfg.Call.MaxReconnectAttempts,
		ReconnectDelay:       time.Duration(cfg.Call.ReconnectDelaySec) * time.Second,
	}, o.clk, o.lf)

	coordinator := group.NewCoordinator(bus, o.engine, group.Options{
		SelfID:       cfg.Identity.UserID,
		Role:         group.Role(cfg.Identity.Role),
		ICEServers:   cfg.ICE.Servers,
		StartTimeout: time.Duration(cfg.Call.GroupStartTimeoutSec) * time.Second,
	}, o.clk, o.lf)

	return &Client{bus: bus, session: session, group: coordinator}, nil
}

// Dial connects to the signaling relay named in the configuration and
// builds a client that owns the connection.
func Dial(cfg config.Config, opts ...Option) (*Client, error) {
	var o clientOpts
	for _, opt := range opts {
		opt(&o)
	}
	relay, err := signal.DialRelay(cfg.Signaling.RelayURL, cfg.Signaling.Token, o.lf)
	if err != nil {
		return nil, err
	}
	c, err := New(cfg, relay, opts...)
	if err != nil {
		relay.Close()
		return nil, err
	}
	c.ownedRelay = relay
	return c, nil
}

// Session exposes the 1:1 call state machine, including its observer
// hooks.
func (c *Client) Session() *call.Session { return c.session }

// Group exposes the group call coordinator, including its observer hooks.
func (c *Client) Group() *group.Coordinator { return c.group }

// ── 1:1 calls ─────────────────────────────────────────────────────────────────

// StartCall rings the target user.
func (c *Client) StartCall(targetID string, callType call.CallType) error {
	return c.session.Start(targetID, callType)
}

// AnswerCall accepts the pending incoming call.
func (c *Client) AnswerCall() error { return c.session.Answer() }

// EndCall hangs up, or declines a pending incoming call.
func (c *Client) EndCall() { c.session.End() }

// ── Group calls ───────────────────────────────────────────────────────────────

// StartGroupCall creates a group call as host. Requires an elevated role.
func (c *Client) StartGroupCall(participantIDs []string, callType call.CallType) error {
	return c.group.Start(participantIDs, callType)
}

// JoinGroupCall enters an existing group call as guest.
func (c *Client) JoinGroupCall(callID string, callType call.CallType) error {
	return c.group.Join(callID, callType)
}

// LeaveGroupCall exits the current group call.
func (c *Client) LeaveGroupCall() { c.group.Leave() }

// EndGroupCall terminates the current group call for everyone.
func (c *Client) EndGroupCall() { c.group.End() }

// ── Local controls ────────────────────────────────────────────────────────────

// ToggleMute flips the local audio track of whichever call is active.
// Returns the new muted state.
func (c *Client) ToggleMute() bool {
	if c.group.Active() {
		return c.group.ToggleMute()
	}
	return c.session.ToggleMute()
}

// ToggleVideo flips the local video track of whichever call is active.
// Returns the new disabled state.
func (c *Client) ToggleVideo() bool {
	if c.group.Active() {
		return c.group.ToggleVideo()
	}
	return c.session.ToggleVideo()
}

// Close tears down both call surfaces and, when the client dialed the
// relay itself, the relay connection.
func (c *Client) Close() {
	c.session.Close()
	c.group.Close()
	if c.ownedRelay != nil {
		c.ownedRelay.Close()
	}
}
