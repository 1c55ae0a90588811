package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrEmptyContent   = errors.New("message content is empty")
	ErrNoConversation = errors.New("no active conversation")
	ErrGroupTooSmall  = errors.New("group must keep more than three members")
	ErrNotGroup       = errors.New("conversation is not a group")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownPayload = errors.New("unrecognised payload")
)

// NoticeKind says which user action a notice belongs to.
type NoticeKind int

const (
	NoticeSendFailed NoticeKind = iota
	NoticeLeaveFailed
	NoticeSubscribeFailed
	NoticeJoinFailed
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeSendFailed:
		return "send failed"
	case NoticeLeaveFailed:
		return "leave failed"
	case NoticeSubscribeFailed:
		return "subscribe failed"
	case NoticeJoinFailed:
		return "join failed"
	default:
		return fmt.Sprintf("notice(%d)", int(k))
	}
}

// Notice is a user-visible failure. Notices never change engine state.
type Notice struct {
	Kind           NoticeKind
	ConversationID string
	Err            error
}

func (n Notice) Error() string {
	return fmt.Sprintf("%s: %v", n.Kind, n.Err)
}

func (n Notice) Unwrap() error { return n.Err }
