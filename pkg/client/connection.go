package client

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aeolun/convosync/pkg/protocol"
)

// ConnectionStateType represents the connection status
type ConnectionStateType int

const (
	StateTypeConnected ConnectionStateType = iota
	StateTypeDisconnected
	StateTypeReconnecting
)

func (s ConnectionStateType) String() string {
	switch s {
	case StateTypeConnected:
		return "connected"
	case StateTypeDisconnected:
		return "disconnected"
	case StateTypeReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectionStateUpdate represents a connection state change
type ConnectionStateUpdate struct {
	State   ConnectionStateType
	Attempt int
	Err     error
}

// DisconnectReason indicates why a connection was lost
type DisconnectReason int

const (
	DisconnectUnknown       DisconnectReason = iota
	DisconnectError                          // Read/write error
	DisconnectServerDown                     // Server closed connection
	DisconnectBrokerError                    // Broker sent an ERROR frame
	DisconnectUserRequested                  // User explicitly disconnected
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectError:
		return "error"
	case DisconnectServerDown:
		return "server closed"
	case DisconnectBrokerError:
		return "broker error"
	case DisconnectUserRequested:
		return "user requested"
	default:
		return "unknown"
	}
}

const (
	// DefaultURL is the raw websocket endpoint behind the broker's SockJS route.
	DefaultURL = "ws://localhost:8080/ws/websocket"

	// DefaultHeartBeat is offered to the broker as "cx,cy" in milliseconds.
	DefaultHeartBeat = 10 * time.Second

	apiKeyHeader = "x-api-key"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectionClosed = errors.New("connection closed")
	ErrQueueFull        = errors.New("outgoing queue full")
	ErrBrokerRejected   = errors.New("broker rejected connection")
)

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	// URL of the websocket endpoint. Empty means DefaultURL.
	URL string
	// Token is sent as "Authorization: Bearer <token>" on CONNECT.
	Token string
	// APIKey is sent as x-api-key on CONNECT when set.
	APIKey string
	// HeartBeat interval offered to the broker. Zero means DefaultHeartBeat,
	// negative disables heart-beating.
	HeartBeat time.Duration
	// HandshakeTimeout bounds the websocket dial and the wait for CONNECTED.
	HandshakeTimeout time.Duration
}

// Connection is a STOMP session over a websocket. It keeps a registry of
// subscriptions and replays them on every (re)connect.
type Connection struct {
	addr      string
	host      string
	token     string
	apiKey    string
	heartBeat time.Duration
	dialer    *websocket.Dialer

	conn         *websocket.Conn
	done         chan struct{} // closed when conn stops being the live socket
	writeMu      sync.Mutex
	mu           sync.RWMutex
	connected    bool
	reconnecting bool
	session      string

	// Subscriptions keyed by destination, replayed on reconnect
	subs   map[string]string
	nextID int

	// Channels for communication
	incoming    chan *protocol.Frame
	outgoing    chan *protocol.Frame
	errors      chan error
	stateChange chan ConnectionStateUpdate

	// Auto-reconnect settings
	autoReconnect     bool
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration

	lastDisconnectReason DisconnectReason

	protocolTimeout time.Duration

	// Traffic counters (bytes on the wire)
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	// Logging
	logger *log.Logger

	// Shutdown
	shutdown chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewConnection creates a new client connection
func NewConnection(opts ConnectionOptions) (*Connection, error) {
	raw := opts.URL
	if raw == "" {
		raw = DefaultURL
	}
	u, err := parseServerURL(raw)
	if err != nil {
		return nil, err
	}

	hb := opts.HeartBeat
	if hb == 0 {
		hb = DefaultHeartBeat
	}
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Connection{
		addr:              u.String(),
		host:              u.Hostname(),
		token:             opts.Token,
		apiKey:            opts.APIKey,
		heartBeat:         hb,
		dialer:            &websocket.Dialer{HandshakeTimeout: timeout, Proxy: http.ProxyFromEnvironment},
		subs:              make(map[string]string),
		incoming:          make(chan *protocol.Frame, 100),
		outgoing:          make(chan *protocol.Frame, 100),
		errors:            make(chan error, 10),
		stateChange:       make(chan ConnectionStateUpdate, 10),
		autoReconnect:     true,
		reconnectDelay:    1 * time.Second,
		maxReconnectDelay: 30 * time.Second,
		protocolTimeout:   timeout,
		shutdown:          make(chan struct{}),
	}, nil
}

// parseServerURL accepts ws://, wss://, http:// and https:// URLs, or a bare
// host:port which is treated as ws://host:port/ws/websocket.
func parseServerURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty server address")
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q: missing host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws/websocket"
	}
	return u, nil
}

// SetLogger sets a logger for debugging connection events
func (c *Connection) SetLogger(logger *log.Logger) {
	c.logger = logger
}

// DisableAutoReconnect disables automatic reconnection on connection loss
func (c *Connection) DisableAutoReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoReconnect = false
}

// EnableAutoReconnect re-enables automatic reconnection
func (c *Connection) EnableAutoReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoReconnect = true
}

// logf logs a message if a logger is set
func (c *Connection) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Connect dials the websocket and performs the STOMP handshake.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	c.logf("Connecting to %s...", c.addr)

	conn, _, err := c.dialer.Dial(c.addr, nil)
	if err != nil {
		c.logf("Dial failed: %v", err)
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}

	session, err := c.handshake(conn)
	if err != nil {
		c.logf("Handshake failed: %v", err)
		conn.Close()
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.connected = true
	c.session = session
	c.mu.Unlock()

	c.logf("Connected successfully to %s (session %q)", c.addr, session)

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.writeLoop(conn, done)

	c.replaySubscriptions()
	return nil
}

// handshake sends CONNECT and waits for CONNECTED.
func (c *Connection) handshake(conn *websocket.Conn) (string, error) {
	kv := []string{
		protocol.HeaderAcceptVersion, protocol.ProtocolVersion,
		protocol.HeaderHost, c.host,
		protocol.HeaderHeartBeat, c.heartBeatHeader(),
	}
	if c.token != "" {
		kv = append(kv, protocol.HeaderAuthorization, "Bearer "+c.token)
	}
	if c.apiKey != "" {
		kv = append(kv, apiKeyHeader, c.apiKey)
	}

	if err := c.writeFrame(conn, protocol.NewFrame(protocol.CommandConnect, nil, kv...)); err != nil {
		return "", fmt.Errorf("send CONNECT: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.protocolTimeout)); err != nil {
		return "", fmt.Errorf("failed to set read deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("failed to read CONNECTED: %w", err)
		}
		c.bytesReceived.Add(uint64(len(data)))

		frame, err := protocol.DecodeMessage(data)
		if errors.Is(err, protocol.ErrHeartBeatOnly) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to decode CONNECTED: %w", err)
		}

		switch frame.Command {
		case protocol.CommandConnected:
			if v := frame.Get(protocol.HeaderVersion); v != "" && v != protocol.ProtocolVersion {
				c.logf("Note: broker negotiated STOMP %s (we asked for %s)", v, protocol.ProtocolVersion)
			}
			return frame.Get("session"), nil
		case protocol.CommandError:
			return "", fmt.Errorf("%w: %s", ErrBrokerRejected, brokerMessage(frame))
		default:
			return "", fmt.Errorf("unexpected %s frame during handshake", frame.Command)
		}
	}
}

func (c *Connection) heartBeatHeader() string {
	if c.heartBeat < 0 {
		return "0,0"
	}
	ms := strconv.FormatInt(c.heartBeat.Milliseconds(), 10)
	return ms + "," + ms
}

func brokerMessage(f *protocol.Frame) string {
	if msg := f.Get(protocol.HeaderMessage); msg != "" {
		return msg
	}
	return strings.TrimSpace(string(f.Body))
}

// writeFrame writes one frame as one websocket text message.
func (c *Connection) writeFrame(conn *websocket.Conn, f *protocol.Frame) error {
	data, err := protocol.EncodeMessage(f)
	if err != nil {
		return err
	}
	return c.writeRaw(conn, data)
}

func (c *Connection) writeRaw(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.bytesSent.Add(uint64(len(data)))
	return nil
}

// replaySubscriptions re-sends SUBSCRIBE for every registered destination.
func (c *Connection) replaySubscriptions() {
	c.mu.RLock()
	frames := make([]*protocol.Frame, 0, len(c.subs))
	for dest, id := range c.subs {
		frames = append(frames, subscribeFrame(dest, id))
	}
	c.mu.RUnlock()

	for _, f := range frames {
		if err := c.Send(f); err != nil {
			c.logf("Replay subscription %s failed: %v", f.Destination(), err)
		}
	}
}

func subscribeFrame(dest, id string) *protocol.Frame {
	return protocol.NewFrame(protocol.CommandSubscribe, nil,
		protocol.HeaderID, id,
		protocol.HeaderDestination, dest,
		protocol.HeaderAck, "auto",
	)
}

// Subscribe registers a destination. When connected the SUBSCRIBE frame is
// sent immediately; otherwise it is sent on the next connect. Subscribing
// twice to the same destination is a no-op.
func (c *Connection) Subscribe(destination string) error {
	c.mu.Lock()
	if _, ok := c.subs[destination]; ok {
		c.mu.Unlock()
		return nil
	}
	c.nextID++
	id := "sub-" + strconv.Itoa(c.nextID)
	c.subs[destination] = id
	connected := c.connected
	c.mu.Unlock()

	c.logf("Subscribe %s (%s)", destination, id)
	if !connected {
		return nil
	}
	return c.Send(subscribeFrame(destination, id))
}

// Unsubscribe drops a destination from the registry.
func (c *Connection) Unsubscribe(destination string) error {
	c.mu.Lock()
	id, ok := c.subs[destination]
	delete(c.subs, destination)
	connected := c.connected
	c.mu.Unlock()

	if !ok || !connected {
		return nil
	}
	c.logf("Unsubscribe %s (%s)", destination, id)
	return c.Send(protocol.NewFrame(protocol.CommandUnsubscribe, nil, protocol.HeaderID, id))
}

// Subscriptions returns the registered destinations.
func (c *Connection) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for dest := range c.subs {
		out = append(out, dest)
	}
	return out
}

// Publish sends a JSON body to an application destination.
func (c *Connection) Publish(destination string, body []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.Send(protocol.NewFrame(protocol.CommandSend, body,
		protocol.HeaderDestination, destination,
		protocol.HeaderContentType, "application/json",
	))
}

// Disconnect closes the connection
func (c *Connection) Disconnect() {
	c.disconnectWithReason(DisconnectUserRequested)
}

// disconnectWithReason closes the connection and records why
func (c *Connection) disconnectWithReason(reason DisconnectReason) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.logf("Disconnecting from %s (reason: %v)", c.addr, reason)
	c.connected = false
	c.lastDisconnectReason = reason
	conn := c.conn
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		if reason == DisconnectUserRequested {
			_ = c.writeFrame(conn, protocol.NewFrame(protocol.CommandDisconnect, nil))
		}
		conn.Close()
	}
}

// Close shuts down the connection permanently
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.shutdown)
	c.Disconnect()
	c.wg.Wait()
	close(c.incoming)
	close(c.errors)
	close(c.stateChange)
	c.logf("Connection fully closed")
}

// Send queues a frame for the writer.
func (c *Connection) Send(frame *protocol.Frame) error {
	select {
	case <-c.shutdown:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.outgoing <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Incoming returns the channel for MESSAGE frames.
func (c *Connection) Incoming() <-chan *protocol.Frame {
	return c.incoming
}

// Errors returns the channel for connection errors
func (c *Connection) Errors() <-chan error {
	return c.errors
}

// StateChanges returns the channel for connection state updates
func (c *Connection) StateChanges() <-chan ConnectionStateUpdate {
	return c.stateChange
}

// IsConnected returns whether the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// GetAddress returns the server address
func (c *Connection) GetAddress() string {
	return c.addr
}

// LastDisconnectReason reports why the previous session ended.
func (c *Connection) LastDisconnectReason() DisconnectReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastDisconnectReason
}

// GetBytesSent returns the total bytes sent
func (c *Connection) GetBytesSent() uint64 {
	return c.bytesSent.Load()
}

// GetBytesReceived returns the total bytes received
func (c *Connection) GetBytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// readLoop reads frames until the socket fails.
func (c *Connection) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logf("Connection closed by server")
				c.handleDisconnectWithReason(conn, DisconnectServerDown)
				return
			}
			if c.ownsConn(conn) {
				c.logf("Read error: %v", err)
				c.reportError(fmt.Errorf("read error: %w", err))
			}
			c.handleDisconnectWithReason(conn, DisconnectError)
			return
		}
		c.bytesReceived.Add(uint64(len(data)))

		frame, err := protocol.DecodeMessage(data)
		if errors.Is(err, protocol.ErrHeartBeatOnly) {
			continue
		}
		if err != nil {
			c.logf("Decode error: %v", err)
			c.reportError(fmt.Errorf("decode error: %w", err))
			continue
		}

		switch frame.Command {
		case protocol.CommandMessage:
			c.logf("← RECV: MESSAGE dest=%s len=%d", frame.Destination(), len(frame.Body))
			select {
			case c.incoming <- frame:
			case <-c.shutdown:
				return
			}
		case protocol.CommandError:
			msg := brokerMessage(frame)
			c.logf("Broker error: %s", msg)
			c.reportError(fmt.Errorf("broker error: %s", msg))
			c.handleDisconnectWithReason(conn, DisconnectBrokerError)
			return
		case protocol.CommandReceipt:
			c.logf("← RECV: RECEIPT %s", frame.Get(protocol.HeaderReceiptID))
		default:
			c.logf("← RECV: unexpected %s frame", frame.Command)
		}
	}
}

// writeLoop drains the outgoing queue and emits heart-beats.
func (c *Connection) writeLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer c.wg.Done()

	var beat <-chan time.Time
	if c.heartBeat > 0 {
		ticker := time.NewTicker(c.heartBeat)
		defer ticker.Stop()
		beat = ticker.C
	}

	for {
		select {
		case frame := <-c.outgoing:
			if err := c.writeFrame(conn, frame); err != nil {
				c.logf("Write error: %v", err)
				c.reportError(fmt.Errorf("write error: %w", err))
				c.handleDisconnectWithReason(conn, DisconnectError)
				return
			}
			c.logf("→ SEND: %s dest=%s len=%d", frame.Command, frame.Destination(), len(frame.Body))

		case <-beat:
			if err := c.writeRaw(conn, []byte("\n")); err != nil {
				c.logf("Heart-beat write error: %v", err)
				c.handleDisconnectWithReason(conn, DisconnectError)
				return
			}

		case <-done:
			return
		case <-c.shutdown:
			return
		}
	}
}

// ownsConn reports whether conn is still the live socket.
func (c *Connection) ownsConn(conn *websocket.Conn) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn == conn
}

func (c *Connection) reportError(err error) {
	select {
	case c.errors <- err:
	default:
	}
}

func (c *Connection) handleDisconnectWithReason(conn *websocket.Conn, reason DisconnectReason) {
	c.mu.Lock()
	if !c.connected || c.conn != conn {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.connected = false
	c.lastDisconnectReason = reason
	c.conn = nil
	close(c.done)
	autoReconnect := c.autoReconnect && !c.closed
	c.mu.Unlock()

	conn.Close()
	c.logf("Disconnected from server (reason: %v)", reason)

	disconnectErr := fmt.Errorf("disconnected from server: %v", reason)
	select {
	case c.stateChange <- ConnectionStateUpdate{State: StateTypeDisconnected, Err: disconnectErr}:
	default:
		c.logf("State channel full, dropped disconnected update")
	}

	if autoReconnect {
		c.logf("Auto-reconnect enabled, starting reconnect loop")
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.reconnectLoop()
		}()
	}
}

// reconnectLoop attempts to reconnect with exponential backoff
func (c *Connection) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	delay := c.reconnectDelay
	attempt := 1

	for {
		select {
		case <-c.shutdown:
			c.logf("Reconnect loop cancelled (shutdown)")
			return
		case <-time.After(delay):
			c.logf("Reconnect attempt %d to %s", attempt, c.addr)

			select {
			case c.stateChange <- ConnectionStateUpdate{State: StateTypeReconnecting, Attempt: attempt}:
			default:
			}

			if err := c.Connect(); err != nil {
				if errors.Is(err, ErrConnectionClosed) {
					return
				}
				c.logf("Reconnect attempt %d failed: %v", attempt, err)

				delay = delay * 2
				if delay > c.maxReconnectDelay {
					delay = c.maxReconnectDelay
				}
				c.logf("Next reconnect attempt in %v", delay)
				attempt++
				continue
			}

			c.logf("Reconnected successfully after %d attempts", attempt)

			select {
			case c.stateChange <- ConnectionStateUpdate{State: StateTypeConnected, Attempt: attempt}:
			default:
			}
			return
		}
	}
}
