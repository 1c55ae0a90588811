package engine

import (
	"context"

	"github.com/aeolun/convosync/pkg/protocol"
)

// Transport is the pub/sub connection the engine reads from and publishes to.
// The engine never manages its lifecycle. Publish is fire-and-forget.
type Transport interface {
	Subscribe(destination string) error
	Unsubscribe(destination string) error
	Publish(destination string, body []byte) error
	IsConnected() bool

	// Incoming delivers MESSAGE frames for every active subscription.
	Incoming() <-chan *protocol.Frame
}

// Directory is the conversation metadata cache. The engine only signals it.
type Directory interface {
	// Invalidate drops cached metadata for one conversation.
	Invalidate(conversationID string)
	// InvalidateList drops the cached conversation list (inbox previews).
	InvalidateList()
	// RemoveMember removes a participant from a group conversation.
	RemoveMember(ctx context.Context, conversationID, userID string) error
}
