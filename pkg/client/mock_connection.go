package client

import (
	"sync"

	"github.com/aeolun/convosync/pkg/protocol"
)

// MockConnection is a test implementation of ConnectionInterface
type MockConnection struct {
	mu sync.RWMutex

	// State
	connected     bool
	address       string
	autoReconnect bool
	closed        bool
	connectErr    error
	publishErr    error
	subscribeErr  error

	// Channels for communication
	incoming    chan *protocol.Frame
	errors      chan error
	stateChange chan ConnectionStateUpdate

	// Recorded traffic for verification
	Subscribed []string
	Published  []MockPublished
	subscribed map[string]bool
	bytesSent  uint64
	bytesRecvd uint64
}

// MockPublished tracks frames sent via Publish
type MockPublished struct {
	Destination string
	Body        []byte
}

// NewMockConnection creates a new mock connection
func NewMockConnection(address string) *MockConnection {
	return &MockConnection{
		address:       address,
		autoReconnect: true,
		incoming:      make(chan *protocol.Frame, 100),
		errors:        make(chan error, 10),
		stateChange:   make(chan ConnectionStateUpdate, 10),
		subscribed:    make(map[string]bool),
	}
}

// Connect simulates connecting to the server
func (m *MockConnection) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

// Disconnect simulates disconnecting from the server
func (m *MockConnection) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// Close closes the mock connection
func (m *MockConnection) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.connected = false
	close(m.incoming)
	close(m.errors)
	close(m.stateChange)
}

// IsConnected returns the connection state
func (m *MockConnection) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// GetAddress returns the server address
func (m *MockConnection) GetAddress() string {
	return m.address
}

// Subscribe records the destination
func (m *MockConnection) Subscribe(destination string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	if !m.subscribed[destination] {
		m.subscribed[destination] = true
		m.Subscribed = append(m.Subscribed, destination)
	}
	return nil
}

// Unsubscribe forgets the destination
func (m *MockConnection) Unsubscribe(destination string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribed, destination)
	return nil
}

// IsSubscribed reports whether destination is currently subscribed
func (m *MockConnection) IsSubscribed(destination string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subscribed[destination]
}

// Publish records the body
func (m *MockConnection) Publish(destination string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	if !m.connected {
		return ErrNotConnected
	}
	m.Published = append(m.Published, MockPublished{Destination: destination, Body: append([]byte(nil), body...)})
	m.bytesSent += uint64(len(body))
	return nil
}

// PublishedTo returns bodies published to destination, in order
func (m *MockConnection) PublishedTo(destination string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, p := range m.Published {
		if p.Destination == destination {
			out = append(out, string(p.Body))
		}
	}
	return out
}

// Incoming returns the incoming frames channel
func (m *MockConnection) Incoming() <-chan *protocol.Frame {
	return m.incoming
}

// Errors returns the errors channel
func (m *MockConnection) Errors() <-chan error {
	return m.errors
}

// StateChanges returns the state changes channel
func (m *MockConnection) StateChanges() <-chan ConnectionStateUpdate {
	return m.stateChange
}

// DisableAutoReconnect disables auto-reconnect
func (m *MockConnection) DisableAutoReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = false
}

// EnableAutoReconnect enables auto-reconnect
func (m *MockConnection) EnableAutoReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = true
}

// GetBytesSent returns the bytes published so far
func (m *MockConnection) GetBytesSent() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytesSent
}

// GetBytesReceived returns the bytes delivered so far
func (m *MockConnection) GetBytesReceived() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytesRecvd
}

// Test helper methods

// SetConnectError makes Connect() return an error
func (m *MockConnection) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// SetPublishError makes Publish() return an error
func (m *MockConnection) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// SetSubscribeError makes Subscribe() return an error
func (m *MockConnection) SetSubscribeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeErr = err
}

// SetConnected sets the connection state directly
func (m *MockConnection) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// Deliver simulates a MESSAGE frame arriving on destination
func (m *MockConnection) Deliver(destination, body string) {
	m.mu.Lock()
	m.bytesRecvd += uint64(len(body))
	m.mu.Unlock()
	m.incoming <- protocol.NewFrame(protocol.CommandMessage, []byte(body), protocol.HeaderDestination, destination)
}

// SimulateError sends an error on the errors channel
func (m *MockConnection) SimulateError(err error) {
	m.errors <- err
}

// SimulateStateChange sends a state change
func (m *MockConnection) SimulateStateChange(state ConnectionStateUpdate) {
	m.stateChange <- state
}
