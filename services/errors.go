package services

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNotAuthorized            ErrorKind = "NOT_AUTHORIZED"
	KindNotAMember               ErrorKind = "NOT_A_MEMBER"
	KindNotFriends               ErrorKind = "NOT_FRIENDS"
	KindSelfConversation         ErrorKind = "SELF_CONVERSATION"
	KindAlreadyMember            ErrorKind = "ALREADY_MEMBER"
	KindParticipantNotFound      ErrorKind = "PARTICIPANT_NOT_FOUND"
	KindInvalidConversationType  ErrorKind = "INVALID_CONVERSATION_TYPE"
	KindCannotLeaveDirectMessage ErrorKind = "CANNOT_LEAVE_DIRECT_MESSAGE"
	KindCannotKickSelf           ErrorKind = "CANNOT_KICK_SELF"
	KindMessageNotFound          ErrorKind = "MESSAGE_NOT_FOUND"
	KindUnknownParticipant       ErrorKind = "UNKNOWN_PARTICIPANT"
	KindInvalidTitle             ErrorKind = "INVALID_TITLE"
	KindInsufficientParticipants ErrorKind = "INSUFFICIENT_PARTICIPANTS"
	KindConversationNotFound     ErrorKind = "CONVERSATION_NOT_FOUND"
	KindEmptyMessage             ErrorKind = "EMPTY_MESSAGE"
	KindInvalidRole              ErrorKind = "INVALID_ROLE"
	KindInvalidReaction          ErrorKind = "INVALID_REACTION"
	KindRateLimited              ErrorKind = "RATE_LIMITED"
)

// Error is a policy or validation failure the caller can act on. Two Errors
// match under errors.Is when their kinds are equal.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t.Kind == e.Kind
}

func newError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

var (
	ErrNotAuthorized            = newError(KindNotAuthorized, "not authorized")
	ErrNotAMember               = newError(KindNotAMember, "not an active participant of this conversation")
	ErrNotFriends               = newError(KindNotFriends, "direct messages are limited to friends")
	ErrSelfConversation         = newError(KindSelfConversation, "cannot start a conversation with yourself")
	ErrAlreadyMember            = newError(KindAlreadyMember, "user is already a participant")
	ErrParticipantNotFound      = newError(KindParticipantNotFound, "participant not found")
	ErrInvalidConversationType  = newError(KindInvalidConversationType, "operation not allowed for this conversation type")
	ErrCannotLeaveDirectMessage = newError(KindCannotLeaveDirectMessage, "direct messages cannot be left")
	ErrCannotKickSelf           = newError(KindCannotKickSelf, "cannot kick yourself")
	ErrMessageNotFound          = newError(KindMessageNotFound, "message not found")
	ErrUnknownParticipant       = newError(KindUnknownParticipant, "unknown user")
	ErrInvalidTitle             = newError(KindInvalidTitle, "title must not be blank")
	ErrInsufficientParticipants = newError(KindInsufficientParticipants, "a group needs at least one other participant")
	ErrConversationNotFound     = newError(KindConversationNotFound, "conversation not found")
	ErrEmptyMessage             = newError(KindEmptyMessage, "message needs content or media")
	ErrInvalidRole              = newError(KindInvalidRole, "invalid role change")
	ErrInvalidReaction          = newError(KindInvalidReaction, "emoji must not be blank")
	ErrRateLimited              = newError(KindRateLimited, "too many requests")
)

// KindOf returns the kind of a service error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
