package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/convosync/pkg/client"
	"github.com/aeolun/convosync/pkg/engine"
)

func TestLoadConfigWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default file written")

	// The written file parses back to the same settings
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
url = "wss://chat.example.com/ws/websocket"

[identity]
user_id = "u-local"
username = "alice"
token = "tok"

[engine]
match_window_ms = 2500
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws/websocket", cfg.Server.URL)
	assert.Equal(t, client.DefaultAPIBase, cfg.Server.APIBase, "unset keys keep defaults")
	assert.Equal(t, 2500, cfg.Engine.MatchWindowMS)
	assert.Equal(t, engine.DefaultPinnedThreshold, cfg.Engine.PinnedThresholdPX)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, engine.Identity{UserID: "u-local", Username: "alice", Token: "tok"}, cfg.ToIdentity())
	opts := cfg.ToEngineOptions()
	assert.Equal(t, 2500*time.Millisecond, opts.MatchWindow)
	assert.Equal(t, 30*time.Second, opts.PresenceRefresh)

	conn := cfg.ToConnectionOptions()
	assert.Equal(t, "tok", conn.Token)
	assert.Equal(t, 10*time.Second, conn.HeartBeat)
}

func TestLoadConfigRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nurl = "), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONVOSYNC_SERVER_URL", "ws://override/ws/websocket")
	t.Setenv("CONVOSYNC_IDENTITY_USERNAME", "bob")
	t.Setenv("CONVOSYNC_ENGINE_PINNED_THRESHOLD_PX", "64.5")
	t.Setenv("CONVOSYNC_ENGINE_PRESENCE_REFRESH_SECONDS", "not-a-number")
	t.Setenv("CONVOSYNC_CLIENT_NOTIFICATIONS", "false")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "ws://override/ws/websocket", cfg.Server.URL)
	assert.Equal(t, "bob", cfg.Identity.Username)
	assert.Equal(t, 64.5, cfg.Engine.PinnedThresholdPX)
	assert.Equal(t, 30, cfg.Engine.PresenceRefreshSeconds, "unparseable values are ignored")
	assert.False(t, cfg.Client.Notifications)
}

func TestValidate(t *testing.T) {
	cfg := DefaultTOMLConfig()
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrMissingIdentity)
	assert.Contains(t, err.Error(), "identity.user_id")
	assert.Contains(t, err.Error(), "identity.username")

	cfg.Identity.UserID = "u1"
	cfg.Identity.Username = "  "
	err = cfg.Validate()
	assert.ErrorIs(t, err, ErrMissingIdentity)
	assert.NotContains(t, err.Error(), "user_id")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/.convosync/state.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".convosync/state.db"), got)

	got, err = ExpandPath("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}
