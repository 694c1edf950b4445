// Package config holds the JSON configuration for a callkit client.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	Signaling Signaling `json:"signaling"`
	ICE       ICE       `json:"ice"`
	Call      Call      `json:"call"`
	Media     Media     `json:"media"`
}

type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`

	// Role gates elevated operations like starting group calls.
	// One of "admin", "seller", "buyer".
	Role string `json:"role"`
}

type Signaling struct {
	// RelayURL is the websocket endpoint of the signaling relay,
	// e.g. "wss://relay.example.org/signal".
	RelayURL string `json:"relay_url"`

	// Token authenticates the relay connection (sent as a Bearer token).
	Token string `json:"token"`
}

type ICE struct {
	Servers []string `json:"servers"`

	// ICE timing (seconds). 0 = use default.
	DisconnectedTimeoutSec int `json:"disconnected_timeout_sec"`
	FailedTimeoutSec       int `json:"failed_timeout_sec"`
	KeepaliveIntervalSec   int `json:"keepalive_interval_sec"`
}

type Call struct {
	// MaxReconnectAttempts bounds automatic recovery after a drop.
	MaxReconnectAttempts int `json:"max_reconnect_attempts"`

	// ReconnectDelaySec is the pause before each recovery attempt.
	ReconnectDelaySec int `json:"reconnect_delay_sec"`

	// GroupStartTimeoutSec bounds the wait for the relay's group call
	// start acknowledgment.
	GroupStartTimeoutSec int `json:"group_start_timeout_sec"`
}

type Media struct {
	// Capture caps for the local camera.
	MaxWidth  int `json:"max_width"`
	MaxHeight int `json:"max_height"`

	// VideoBitRate in bits per second for the VP8 encoder.
	VideoBitRate int `json:"video_bitrate"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			Role: "buyer",
		},
		ICE: ICE{
			Servers:                []string{"stun:stun.l.google.com:19302"},
			DisconnectedTimeoutSec: 30,
			FailedTimeoutSec:       120,
			KeepaliveIntervalSec:   2,
		},
		Call: Call{
			MaxReconnectAttempts: 3,
			ReconnectDelaySec:    2,
			GroupStartTimeoutSec: 5,
		},
		Media: Media{
			MaxWidth:     640,
			MaxHeight:    480,
			VideoBitRate: 1_500_000,
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.UserID) == "" {
		return errors.New("identity.user_id is required")
	}
	switch c.Identity.Role {
	case "admin", "seller", "buyer":
	default:
		return errors.New("identity.role must be admin, seller or buyer")
	}

	// Signaling
	if raw := strings.TrimSpace(c.Signaling.RelayURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return errors.New("signaling.relay_url must be a ws:// or wss:// URL")
		}
	}

	// ICE
	if len(c.ICE.Servers) == 0 {
		return errors.New("ice.servers requires at least one entry")
	}
	if c.ICE.DisconnectedTimeoutSec < 0 || c.ICE.FailedTimeoutSec < 0 || c.ICE.KeepaliveIntervalSec < 0 {
		return errors.New("ice timeouts must be >= 0")
	}

	// Call
	if c.Call.MaxReconnectAttempts <= 0 {
		return errors.New("call.max_reconnect_attempts must be > 0")
	}
	if c.Call.ReconnectDelaySec <= 0 {
		return errors.New("call.reconnect_delay_sec must be > 0")
	}
	if c.Call.GroupStartTimeoutSec <= 0 {
		return errors.New("call.group_start_timeout_sec must be > 0")
	}

	// Media
	if c.Media.MaxWidth <= 0 || c.Media.MaxHeight <= 0 {
		return errors.New("media.max_width and media.max_height must be > 0")
	}
	if c.Media.VideoBitRate <= 0 {
		return errors.New("media.video_bitrate must be > 0")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err). The default config fails validation until
// identity.user_id is filled in, so Ensure saves without validating.
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Config{}, false, err
		}
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return Config{}, false, err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
