package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aeolun/convosync/pkg/client"
	"github.com/aeolun/convosync/pkg/engine"
)

// DefaultPath is where the client looks for its config file.
const DefaultPath = "~/.convosync/config.toml"

var ErrMissingIdentity = errors.New("identity not configured")

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Server   ServerSection   `toml:"server"`
	Identity IdentitySection `toml:"identity"`
	Engine   EngineSection   `toml:"engine"`
	Client   ClientSection   `toml:"client"`
}

type ServerSection struct {
	URL              string `toml:"url"`
	APIBase          string `toml:"api_base"`
	APIKey           string `toml:"api_key"`
	HeartBeatSeconds int    `toml:"heartbeat_seconds"`
}

type IdentitySection struct {
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
	Token    string `toml:"token"`
}

type EngineSection struct {
	MatchWindowMS          int     `toml:"match_window_ms"`
	PinnedThresholdPX      float64 `toml:"pinned_threshold_px"`
	PresenceRefreshSeconds int     `toml:"presence_refresh_seconds"`
}

type ClientSection struct {
	StatePath     string `toml:"state_path"`
	LogPath       string `toml:"log_path"`
	MetricsAddr   string `toml:"metrics_addr"`
	Notifications bool   `toml:"notifications"`
	Conversation  string `toml:"conversation"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			URL:              client.DefaultURL,
			APIBase:          client.DefaultAPIBase,
			HeartBeatSeconds: int(client.DefaultHeartBeat / time.Second),
		},
		Engine: EngineSection{
			MatchWindowMS:          int(engine.DefaultMatchWindow / time.Millisecond),
			PinnedThresholdPX:      engine.DefaultPinnedThreshold,
			PresenceRefreshSeconds: int(engine.DefaultPresenceRefresh / time.Second),
		},
		Client: ClientSection{
			StatePath:     "~/.convosync/state.db",
			LogPath:       "~/.convosync/debug.log",
			Notifications: true,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// An unwritable location still runs on defaults
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// ExpandPath expands a leading ~/ to the user's home directory
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: CONVOSYNC_SECTION_KEY
// Example: CONVOSYNC_SERVER_URL=wss://chat.example.com/ws/websocket
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	// Server section
	if val := os.Getenv("CONVOSYNC_SERVER_URL"); val != "" {
		config.Server.URL = val
	}
	if val := os.Getenv("CONVOSYNC_SERVER_API_BASE"); val != "" {
		config.Server.APIBase = val
	}
	if val := os.Getenv("CONVOSYNC_SERVER_API_KEY"); val != "" {
		config.Server.APIKey = val
	}
	if val := os.Getenv("CONVOSYNC_SERVER_HEARTBEAT_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			config.Server.HeartBeatSeconds = secs
		}
	}

	// Identity section
	if val := os.Getenv("CONVOSYNC_IDENTITY_USER_ID"); val != "" {
		config.Identity.UserID = val
	}
	if val := os.Getenv("CONVOSYNC_IDENTITY_USERNAME"); val != "" {
		config.Identity.Username = val
	}
	if val := os.Getenv("CONVOSYNC_IDENTITY_TOKEN"); val != "" {
		config.Identity.Token = val
	}

	// Engine section
	if val := os.Getenv("CONVOSYNC_ENGINE_MATCH_WINDOW_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			config.Engine.MatchWindowMS = ms
		}
	}
	if val := os.Getenv("CONVOSYNC_ENGINE_PINNED_THRESHOLD_PX"); val != "" {
		if px, err := strconv.ParseFloat(val, 64); err == nil {
			config.Engine.PinnedThresholdPX = px
		}
	}
	if val := os.Getenv("CONVOSYNC_ENGINE_PRESENCE_REFRESH_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			config.Engine.PresenceRefreshSeconds = secs
		}
	}

	// Client section
	if val := os.Getenv("CONVOSYNC_CLIENT_STATE_PATH"); val != "" {
		config.Client.StatePath = val
	}
	if val := os.Getenv("CONVOSYNC_CLIENT_LOG_PATH"); val != "" {
		config.Client.LogPath = val
	}
	if val := os.Getenv("CONVOSYNC_CLIENT_METRICS_ADDR"); val != "" {
		config.Client.MetricsAddr = val
	}
	if val := os.Getenv("CONVOSYNC_CLIENT_NOTIFICATIONS"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Client.Notifications = enabled
		}
	}
	if val := os.Getenv("CONVOSYNC_CLIENT_CONVERSATION"); val != "" {
		config.Client.Conversation = val
	}

	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# convosync client configuration
# This file was auto-generated with default values
#
# Environment variables can override these settings:
# CONVOSYNC_SECTION_KEY (e.g., CONVOSYNC_SERVER_URL=wss://chat.example.com/ws/websocket)

[server]
# STOMP websocket endpoint
url = "ws://localhost:8080/ws/websocket"

# Conversation REST API root
api_base = "http://localhost:8080/api"

# Optional API key sent as x-api-key
# api_key = ""

# Heart-beat interval offered to the broker, in seconds (0 = default)
heartbeat_seconds = 10

[identity]
# The local user. Required.
# user_id = ""
# username = ""

# Bearer token sent on CONNECT and with API calls
# token = ""

[engine]
# Window within which a confirmation may match an optimistic send
match_window_ms = 5000

# Distance from the bottom of the view, in pixels, that still counts as "at the bottom"
pinned_threshold_px = 100.0

# How often the online roster of a group is re-requested
presence_refresh_seconds = 30

[client]
# SQLite file for client settings
state_path = "~/.convosync/state.db"

# Debug log file
log_path = "~/.convosync/debug.log"

# Serve Prometheus metrics on this address (empty = disabled)
# metrics_addr = "127.0.0.1:9464"

# Desktop notifications for messages arriving while scrolled away
notifications = true

# Conversation to open on start (defaults to the last one opened)
# conversation = ""
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports settings the client cannot start without.
func (c *TOMLConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Identity.UserID) == "" {
		missing = append(missing, "identity.user_id")
	}
	if strings.TrimSpace(c.Identity.Username) == "" {
		missing = append(missing, "identity.username")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: set %s", ErrMissingIdentity, strings.Join(missing, ", "))
	}
	return nil
}

// ToIdentity returns the configured local user
func (c *TOMLConfig) ToIdentity() engine.Identity {
	return engine.Identity{
		UserID:   strings.TrimSpace(c.Identity.UserID),
		Username: strings.TrimSpace(c.Identity.Username),
		Token:    c.Identity.Token,
	}
}

// ToEngineOptions converts the engine section. Logger and metrics are left
// for the caller.
func (c *TOMLConfig) ToEngineOptions() engine.Options {
	return engine.Options{
		MatchWindow:     time.Duration(c.Engine.MatchWindowMS) * time.Millisecond,
		PinnedThreshold: c.Engine.PinnedThresholdPX,
		PresenceRefresh: time.Duration(c.Engine.PresenceRefreshSeconds) * time.Second,
	}
}

// ToConnectionOptions converts the server section
func (c *TOMLConfig) ToConnectionOptions() client.ConnectionOptions {
	return client.ConnectionOptions{
		URL:       c.Server.URL,
		Token:     c.Identity.Token,
		APIKey:    c.Server.APIKey,
		HeartBeat: time.Duration(c.Server.HeartBeatSeconds) * time.Second,
	}
}

// ToDirectoryOptions converts the server section for the REST client
func (c *TOMLConfig) ToDirectoryOptions() client.DirectoryOptions {
	return client.DirectoryOptions{
		BaseURL: c.Server.APIBase,
		Token:   c.Identity.Token,
		APIKey:  c.Server.APIKey,
	}
}

// GetStatePath returns the state database path with ~ expanded
func (c *TOMLConfig) GetStatePath() (string, error) {
	return ExpandPath(c.Client.StatePath)
}

// GetLogPath returns the debug log path with ~ expanded
func (c *TOMLConfig) GetLogPath() (string, error) {
	return ExpandPath(c.Client.LogPath)
}
