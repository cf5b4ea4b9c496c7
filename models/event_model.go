package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the closed set of server-to-client pushes.
type Event interface {
	EventName() string
	event()
}

const (
	EventReceiveMessage          = "ReceiveMessage"
	EventUserTyping              = "UserTyping"
	EventUserStoppedTyping       = "UserStoppedTyping"
	EventMessageRead             = "MessageRead"
	EventReactionUpdate          = "ReactionUpdate"
	EventMessageError            = "MessageError"
	EventUserOnlineStatusChanged = "UserOnlineStatusChanged"
	EventMessageEdited           = "MessageEdited"
	EventMessageDeleted          = "MessageDeleted"
	EventConversationCleared     = "ConversationCleared"
	EventConversationUpdated     = "ConversationUpdated"
)

type ReceivedMessage struct {
	Message MessageView `json:"message"`
}

type TypingIndicator struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Stopped        bool      `json:"-"`
	At             time.Time `json:"at"`
}

type ReadReceipt struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	UserID         uuid.UUID  `json:"user_id"`
	MessageID      *uuid.UUID `json:"message_id"`
	ReadAt         time.Time  `json:"read_at"`
}

// ReactionUpdate carries the authoritative count after the toggle.
type ReactionUpdate struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	UserID         uuid.UUID `json:"user_id"`
	Emoji          string    `json:"emoji"`
	Added          bool      `json:"added"`
	Count          int64     `json:"count"`
}

type PresenceChange struct {
	UserID    uuid.UUID `json:"user_id"`
	IsOnline  bool      `json:"is_online"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MessageEdited struct {
	Message MessageView `json:"message"`
}

type MessageDeleted struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
}

type ConversationCleared struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	ClearedBy      uuid.UUID `json:"cleared_by"`
	ClearedAt      time.Time `json:"cleared_at"`
}

type ConversationUpdated struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	Change         string     `json:"change"`
	ActorID        uuid.UUID  `json:"actor_id"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	IsActive       bool       `json:"is_active"`
}

func (ReceivedMessage) EventName() string { return EventReceiveMessage }
func (e TypingIndicator) EventName() string {
	if e.Stopped {
		return EventUserStoppedTyping
	}
	return EventUserTyping
}
func (ReadReceipt) EventName() string         { return EventMessageRead }
func (ReactionUpdate) EventName() string      { return EventReactionUpdate }
func (PresenceChange) EventName() string      { return EventUserOnlineStatusChanged }
func (MessageError) EventName() string        { return EventMessageError }
func (MessageEdited) EventName() string       { return EventMessageEdited }
func (MessageDeleted) EventName() string      { return EventMessageDeleted }
func (ConversationCleared) EventName() string { return EventConversationCleared }
func (ConversationUpdated) EventName() string { return EventConversationUpdated }

func (ReceivedMessage) event()     {}
func (TypingIndicator) event()     {}
func (ReadReceipt) event()         {}
func (ReactionUpdate) event()      {}
func (PresenceChange) event()      {}
func (MessageError) event()        {}
func (MessageEdited) event()       {}
func (MessageDeleted) event()      {}
func (ConversationCleared) event() {}
func (ConversationUpdated) event() {}

// Envelope is the wire frame for every server push.
type Envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

func NewEnvelope(e Event) Envelope {
	return Envelope{Type: e.EventName(), Data: e}
}

// ConversationUpdated.Change values.
const (
	ChangeParticipantAdded   = "participant_added"
	ChangeParticipantLeft    = "participant_left"
	ChangeParticipantRemoved = "participant_removed"
	ChangeRoleChanged        = "role_changed"
	ChangeDetailsUpdated     = "details_updated"
)

// MessageCreatedRecord is the integration record published for every
// persisted message. It carries ids only; consumers fetch content themselves.
type MessageCreatedRecord struct {
	Type           string    `json:"type"`
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Seq            int64     `json:"seq"`
	HasMedia       bool      `json:"has_media"`
	CreatedAt      time.Time `json:"created_at"`
}

const MessageCreatedType = "message.created"
