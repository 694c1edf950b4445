package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.Identity.UserID = "u1"
	cfg.Identity.Role = "admin"
	cfg.Signaling.RelayURL = "wss://relay.example.org/signal"
	return cfg
}

func TestDefaultNeedsIdentity(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())
	cfg.Identity.UserID = "u1"
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad role", func(c *Config) { c.Identity.Role = "root" }, "identity.role"},
		{"bad relay scheme", func(c *Config) { c.Signaling.RelayURL = "https://x.example" }, "relay_url"},
		{"no ice servers", func(c *Config) { c.ICE.Servers = nil }, "ice.servers"},
		{"zero attempts", func(c *Config) { c.Call.MaxReconnectAttempts = 0 }, "max_reconnect_attempts"},
		{"zero delay", func(c *Config) { c.Call.ReconnectDelaySec = 0 }, "reconnect_delay_sec"},
		{"zero group timeout", func(c *Config) { c.Call.GroupStartTimeoutSec = 0 }, "group_start_timeout_sec"},
		{"zero resolution", func(c *Config) { c.Media.MaxWidth = 0 }, "max_width"},
		{"zero bitrate", func(c *Config) { c.Media.VideoBitRate = 0 }, "video_bitrate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "callkit.json")
	cfg := validConfig()
	cfg.Call.MaxReconnectAttempts = 5

	require.NoError(t, Save(path, cfg))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadStripsBOMAndKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callkit.json")
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"identity":{"user_id":"u1"}}`)...)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "u1", cfg.Identity.UserID)
	// Missing fields stay at defaults.
	assert.Equal(t, 3, cfg.Call.MaxReconnectAttempts)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICE.Servers)
}

func TestEnsureCreatesDefaultOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callkit.json")

	cfg, created, err := Ensure(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, Default(), cfg)

	// Second call loads the existing file; the default fails validation
	// until an identity is filled in.
	_, _, err = Ensure(path)
	require.Error(t, err)

	saved := validConfig()
	require.NoError(t, Save(path, saved))
	got, created, err := Ensure(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, saved, got)
}
