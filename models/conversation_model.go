package models

import (
	"time"

	"github.com/google/uuid"
)

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct_message"
	ConversationGroup  ConversationKind = "group_chat"
)

type Conversation struct {
	ID          uuid.UUID        `gorm:"type:uuid;primary_key" json:"id"`
	Kind        ConversationKind `gorm:"size:20;not null;index" json:"kind"`
	Title       *string          `gorm:"size:255" json:"title"`
	Description *string          `gorm:"type:text" json:"description"`
	ImageURL    *string          `gorm:"size:512" json:"image_url"`

	// DirectKey is set for direct messages only: "<lower uuid>:<higher uuid>".
	DirectKey *string   `gorm:"size:80;uniqueIndex" json:"-"`
	CreatedBy uuid.UUID `gorm:"type:uuid;not null" json:"created_by"`
	IsActive  bool      `gorm:"not null" json:"is_active"`

	LastMessageID *uuid.UUID `gorm:"type:uuid" json:"last_message_id"`
	LastMessageAt *time.Time `gorm:"index" json:"last_message_at"`
	MessageSeq    int64      `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

func (c *Conversation) IsDirect() bool { return c.Kind == ConversationDirect }

// DirectKeyFor returns the same key regardless of argument order.
func DirectKeyFor(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}

// ConversationSummary is the list-view row returned to clients.
type ConversationSummary struct {
	Conversation
	LastMessage *MessageView `json:"last_message,omitempty"`
	UnreadCount int64        `json:"unread_count"`
}

// ConversationDetail is a single conversation with one page of history.
type ConversationDetail struct {
	Conversation
	Messages    []MessageView `json:"messages"`
	UnreadCount int64         `json:"unread_count"`
}
