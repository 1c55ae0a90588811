package client

import (
	"context"

	"github.com/aeolun/convosync/pkg/engine"
	"github.com/aeolun/convosync/pkg/protocol"
)

// ConnectionInterface defines the interface for client connections
// This allows for mocking in tests while the real Connection implements all these methods
type ConnectionInterface interface {
	engine.Transport

	// Connection management
	Connect() error
	Disconnect()
	Close()
	GetAddress() string

	// Channels for receiving data
	Errors() <-chan error
	StateChanges() <-chan ConnectionStateUpdate

	// Configuration
	DisableAutoReconnect()
	EnableAutoReconnect()

	// Traffic statistics
	GetBytesSent() uint64
	GetBytesReceived() uint64
}

// DirectoryInterface is the conversation metadata source used by the UI.
// It extends the engine's cache signals with the lookups the UI needs.
type DirectoryInterface interface {
	engine.Directory

	Conversation(ctx context.Context, id string) (*protocol.ConversationPayload, error)
	Conversations(ctx context.Context, userID string) ([]protocol.ConversationPayload, error)
	Messages(ctx context.Context, conversationID string) ([]protocol.Envelope, error)
}

// StateInterface defines the interface for client state persistence
// This allows for mocking in tests while the real State implements all these methods
type StateInterface interface {
	// Configuration
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error

	// Username management
	GetLastUsername() string
	SetLastUsername(username string) error

	// Last opened conversation
	GetLastConversation() string
	SetLastConversation(conversationID string) error

	// First run tracking
	GetFirstRun() bool
	SetFirstRunComplete() error

	// Connection history
	GetLastSuccessfulConnection(serverAddress string) (int64, error)
	SaveSuccessfulConnection(serverAddress string) error

	// State directory
	GetStateDir() string

	// Close the state
	Close() error
}

var (
	_ ConnectionInterface = (*Connection)(nil)
	_ ConnectionInterface = (*MockConnection)(nil)
	_ StateInterface      = (*State)(nil)
	_ StateInterface      = (*MockState)(nil)
	_ DirectoryInterface  = (*Directory)(nil)
	_ DirectoryInterface  = (*MockDirectory)(nil)
)
