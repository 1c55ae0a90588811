package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aeolun/convosync/pkg/protocol"
)

// SendCoordinator creates tentative messages and publishes send requests.
type SendCoordinator struct {
	transport  Transport
	reconciler *Reconciler
	identity   Identity
	now        func() time.Time
	newToken   func() string
}

func NewSendCoordinator(transport Transport, reconciler *Reconciler, identity Identity) *SendCoordinator {
	return &SendCoordinator{
		transport:  transport,
		reconciler: reconciler,
		identity:   identity,
		now:        time.Now,
		newToken:   uuid.NewString,
	}
}

// Send appends a tentative message for content and publishes it to the
// conversation's chat destination. Nothing is created when the transport is
// down or the content is blank. A publish failure is returned alongside the
// tentative id; the tentative entry stays in the list.
func (s *SendCoordinator) Send(conv Conversation, content string) (string, error) {
	if conv.ID == "" {
		return "", ErrNoConversation
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	if !s.transport.IsConnected() {
		return "", ErrNotConnected
	}

	now := s.now()
	token := s.newToken()
	tentative := Message{
		ID:              s.tentativeID(now),
		ConversationID:  conv.ID,
		SenderID:        s.identity.UserID,
		SenderUsername:  s.identity.Username,
		Content:         content,
		SentAt:          now,
		ClientMessageID: token,
	}
	s.reconciler.OnTentativeCreated(tentative)

	req := &protocol.SendMessageRequest{
		Content:         content,
		ConversationID:  conv.ID,
		Username:        s.identity.Username,
		ClientMessageID: token,
	}
	body, err := req.Encode()
	if err != nil {
		return tentative.ID, fmt.Errorf("encode send request: %w", err)
	}
	if err := s.transport.Publish(protocol.ChatDestination(conv.IsGroup), body); err != nil {
		return tentative.ID, fmt.Errorf("publish: %w", err)
	}
	return tentative.ID, nil
}

// tentativeID derives temp-<unix ms>, adding -N when that id is taken.
func (s *SendCoordinator) tentativeID(now time.Time) string {
	base := TentativePrefix + strconv.FormatInt(now.UnixMilli(), 10)
	id := base
	for n := 1; s.reconciler.HasID(id); n++ {
		id = base + "-" + strconv.Itoa(n)
	}
	return id
}
