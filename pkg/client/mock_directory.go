package client

import (
	"context"
	"sync"

	"github.com/aeolun/convosync/pkg/protocol"
)

// MockDirectory is an in-memory test implementation of DirectoryInterface
type MockDirectory struct {
	mu sync.Mutex

	conversations map[string]*protocol.ConversationPayload
	messages      map[string][]protocol.Envelope
	lists         map[string][]protocol.ConversationPayload

	removeErr error
	fetchErr  error

	// Recorded calls for verification
	Invalidated     []string
	ListInvalidated int
	Removed         [][2]string
	Fetched         []string
}

// NewMockDirectory creates an empty mock directory
func NewMockDirectory() *MockDirectory {
	return &MockDirectory{
		conversations: make(map[string]*protocol.ConversationPayload),
		messages:      make(map[string][]protocol.Envelope),
		lists:         make(map[string][]protocol.ConversationPayload),
	}
}

// AddConversation stores a conversation record and its history
func (m *MockDirectory) AddConversation(c protocol.ConversationPayload, history ...protocol.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := string(c.ID)
	m.conversations[id] = &c
	m.messages[id] = history
}

// SetConversations sets the list returned for userID
func (m *MockDirectory) SetConversations(userID string, list []protocol.ConversationPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[userID] = list
}

// SetRemoveError makes RemoveMember() return an error
func (m *MockDirectory) SetRemoveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeErr = err
}

// SetFetchError makes every lookup return an error
func (m *MockDirectory) SetFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// Conversation returns the stored record
func (m *MockDirectory) Conversation(ctx context.Context, id string) (*protocol.ConversationPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fetched = append(m.Fetched, id)
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// Conversations returns the stored list for userID
func (m *MockDirectory) Conversations(ctx context.Context, userID string) ([]protocol.ConversationPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.lists[userID], nil
}

// Messages returns the stored history
func (m *MockDirectory) Messages(ctx context.Context, conversationID string) ([]protocol.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.messages[conversationID], nil
}

// RemoveMember drops userID from the stored roster
func (m *MockDirectory) RemoveMember(ctx context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeErr != nil {
		return m.removeErr
	}
	m.Removed = append(m.Removed, [2]string{conversationID, userID})
	if c, ok := m.conversations[conversationID]; ok {
		kept := c.Participants[:0:0]
		for _, p := range c.Participants {
			if string(p.User.ID) != userID {
				kept = append(kept, p)
			}
		}
		c.Participants = kept
	}
	return nil
}

// Invalidate records the signal
func (m *MockDirectory) Invalidate(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Invalidated = append(m.Invalidated, conversationID)
}

// InvalidateList records the signal
func (m *MockDirectory) InvalidateList() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListInvalidated++
}
