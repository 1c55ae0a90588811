package ui

import (
	"time"

	"github.com/aeolun/convosync/pkg/protocol"
)

// ServerFrameMsg carries one MESSAGE frame from the broker
type ServerFrameMsg struct {
	Frame *protocol.Frame
}

// ErrorMsg is a transport error
type ErrorMsg struct {
	Err error
}

// ConnectedMsg is sent when the broker session is (re)established
type ConnectedMsg struct{}

// DisconnectedMsg is sent when the broker session drops
type DisconnectedMsg struct {
	Err error
}

// ReconnectingMsg is sent before each reconnect attempt
type ReconnectingMsg struct {
	Attempt int
}

// ReconnectResultMsg is the outcome of a user-requested reconnect
type ReconnectResultMsg struct {
	Err error
}

// TickMsg drives engine housekeeping
type TickMsg time.Time

// ConversationLoadedMsg carries a fetched conversation record and history
type ConversationLoadedMsg struct {
	ID           string
	Conversation *protocol.ConversationPayload
	History      []protocol.Envelope
	Err          error
}

// RosterRefreshedMsg carries a refetched conversation record
type RosterRefreshedMsg struct {
	ID           string
	Conversation *protocol.ConversationPayload
	Err          error
}

// LeaveResultMsg is the outcome of removing the local user from a group
type LeaveResultMsg struct {
	ConversationID string
	Err            error
}

// notificationSentMsg reports a failed desktop notification
type notificationSentMsg struct {
	Err error
}
