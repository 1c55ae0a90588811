package protocol

import "strings"

// Application destinations (Client → Server)
const (
	DestGroupChat          = "/app/group.chat"
	DestPrivateChat        = "/app/private.chat"
	DestJoinConversation   = "/app/join.conversation"
	DestRequestOnlineUsers = "/app/request-online-users"
)

const groupTopicPrefix = "/topic/chat/"

// UserQueue is the per-user private queue carrying chat, presence and
// membership payloads.
func UserQueue(username string) string {
	return "/user/" + username + "/queue/messages"
}

// PrivateMessagesQueue carries direct-chat echoes for the user.
func PrivateMessagesQueue(username string) string {
	return "/user/" + username + "/private-messages"
}

// GroupTopic is the join-signal topic for a group conversation.
func GroupTopic(conversationID string) string {
	return groupTopicPrefix + conversationID
}

// IsGroupTopic reports whether dest is a group topic, returning its
// conversation id.
func IsGroupTopic(dest string) (string, bool) {
	if !strings.HasPrefix(dest, groupTopicPrefix) {
		return "", false
	}
	return strings.TrimPrefix(dest, groupTopicPrefix), true
}

// ChatDestination picks the send destination for a conversation type.
func ChatDestination(isGroup bool) string {
	if isGroup {
		return DestGroupChat
	}
	return DestPrivateChat
}
