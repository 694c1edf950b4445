package media

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// EngineConfig tunes the Pion-backed engine.
type EngineConfig struct {
	ICEServers []string

	// ICE timeouts. The Pion default disconnectedTimeout is 5 s, far too
	// short for relay paths that can have brief outages during re-keying or
	// failover. 30 s gives ICE time to recover without the user noticing a
	// freeze.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// Capture caps. Higher resolutions increase VP8 encoding latency.
	MaxWidth     int
	MaxHeight    int
	VideoBitRate int
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ICEServers:          []string{"stun:stun.l.google.com:19302"},
		DisconnectedTimeout: 30 * time.Second,
		FailedTimeout:       120 * time.Second,
		KeepAliveInterval:   2 * time.Second,
		MaxWidth:            640,
		MaxHeight:           480,
		VideoBitRate:        1_500_000,
	}
}

// WebRTCEngine is the production Engine, built on Pion webrtc and
// pion/mediadevices for capture (platform-gated; see capture_linux.go).
type WebRTCEngine struct {
	api      *webrtc.API
	cfg      EngineConfig
	selector *mediadevices.CodecSelector
	log      logging.LeveledLogger
}

// NewWebRTCEngine builds the webrtc API with the engine's codecs,
// default interceptors, and ICE timeouts.
func NewWebRTCEngine(cfg EngineConfig, lf logging.LoggerFactory) (*WebRTCEngine, error) {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}

	mediaEngine := &webrtc.MediaEngine{}
	selector, err := populateMediaEngine(mediaEngine, cfg)
	if err != nil {
		return nil, fmt.Errorf("media engine: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	return &WebRTCEngine{
		api:      api,
		cfg:      cfg,
		selector: selector,
		log:      lf.NewLogger("media"),
	}, nil
}

// NewPeerConn creates one point-to-point connection. An empty
// cfg.ICEServers falls back to the engine's server list.
func (e *WebRTCEngine) NewPeerConn(cfg Config) (PeerConn, error) {
	servers := cfg.ICEServers
	if len(servers) == 0 {
		servers = e.cfg.ICEServers
	}
	ice := make([]webrtc.ICEServer, 0, len(servers))
	for _, u := range servers {
		ice = append(ice, webrtc.ICEServer{URLs: []string{u}})
	}

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newPionConn(pc, e.log), nil
}

// GetUserMedia acquires local capture tracks per the constraints. The
// platform-gated implementation lives in capture_linux.go; elsewhere it
// reports ErrDeviceNotFound and callers fall back to receive-only.
func (e *WebRTCEngine) GetUserMedia(c Constraints) (Stream, error) {
	return captureUserMedia(e, c)
}
