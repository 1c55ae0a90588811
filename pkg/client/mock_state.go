package client

import (
	"sync"
	"time"
)

// MockState is an in-memory test implementation of StateInterface
type MockState struct {
	mu sync.RWMutex

	// In-memory storage
	config      map[string]string
	connections map[string]int64
	dir         string

	// Error injection
	getConfigErr error
	setConfigErr error
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config:      make(map[string]string),
		connections: make(map[string]int64),
		dir:         "/tmp/mock-state",
	}
}

// GetConfig retrieves a configuration value
func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}
	return s.config[key], nil
}

// SetConfig stores a configuration value
func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}
	s.config[key] = value
	return nil
}

// GetLastUsername returns the last used username
func (s *MockState) GetLastUsername() string {
	v, _ := s.GetConfig(keyLastUsername)
	return v
}

// SetLastUsername stores the last used username
func (s *MockState) SetLastUsername(username string) error {
	return s.SetConfig(keyLastUsername, username)
}

// GetLastConversation returns the remembered conversation
func (s *MockState) GetLastConversation() string {
	v, _ := s.GetConfig(keyLastConversation)
	return v
}

// SetLastConversation remembers the open conversation
func (s *MockState) SetLastConversation(conversationID string) error {
	return s.SetConfig(keyLastConversation, conversationID)
}

// GetFirstRun checks if this is the first run
func (s *MockState) GetFirstRun() bool {
	v, _ := s.GetConfig(keyFirstRunComplete)
	return v != "true"
}

// SetFirstRunComplete marks first run as complete
func (s *MockState) SetFirstRunComplete() error {
	return s.SetConfig(keyFirstRunComplete, "true")
}

// GetLastSuccessfulConnection returns the recorded success time
func (s *MockState) GetLastSuccessfulConnection(serverAddress string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connections[serverAddress], nil
}

// SaveSuccessfulConnection records a success for serverAddress
func (s *MockState) SaveSuccessfulConnection(serverAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[serverAddress] = time.Now().Unix()
	return nil
}

// GetStateDir returns the state directory
func (s *MockState) GetStateDir() string {
	return s.dir
}

// Close is a no-op for mock state
func (s *MockState) Close() error {
	return nil
}

// Test helper methods

// SetGetConfigError makes GetConfig() return an error
func (s *MockState) SetGetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getConfigErr = err
}

// SetSetConfigError makes SetConfig() return an error
func (s *MockState) SetSetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigErr = err
}

// GetAllConfig returns a copy of all config values
func (s *MockState) GetAllConfig() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.config))
	for k, v := range s.config {
		out[k] = v
	}
	return out
}
