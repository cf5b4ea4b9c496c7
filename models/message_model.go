package models

import (
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_message_conversation_seq,priority:1" json:"conversation_id"`
	SenderID       uuid.UUID `gorm:"type:uuid;not null;index" json:"sender_id"`
	Seq            int64     `gorm:"not null;uniqueIndex:idx_message_conversation_seq,priority:2" json:"seq"`

	Content   *string `gorm:"type:text" json:"content"`
	MediaURL  *string `gorm:"size:512" json:"media_url"`
	MediaType *string `gorm:"size:50" json:"media_type"`

	ReplyToMessageID *uuid.UUID `gorm:"type:uuid" json:"reply_to_message_id"`

	IsDeleted bool       `gorm:"not null;default:false" json:"is_deleted"`
	IsEdited  bool       `gorm:"not null;default:false" json:"is_edited"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	EditedAt  *time.Time `json:"edited_at"`
}

// ReplyPreview is the resolved form of a reply reference. A missing or
// tombstoned parent renders as a placeholder with IsDeleted set.
type ReplyPreview struct {
	ID        uuid.UUID  `json:"id"`
	SenderID  *uuid.UUID `json:"sender_id,omitempty"`
	Content   *string    `json:"content"`
	IsDeleted bool       `json:"is_deleted"`
}

type MessageView struct {
	ID             uuid.UUID         `json:"id"`
	ConversationID uuid.UUID         `json:"conversation_id"`
	SenderID       uuid.UUID         `json:"sender_id"`
	Seq            int64             `json:"seq"`
	Content        *string           `json:"content"`
	MediaURL       *string           `json:"media_url"`
	MediaType      *string           `json:"media_type"`
	ReplyTo        *ReplyPreview     `json:"reply_to,omitempty"`
	IsDeleted      bool              `json:"is_deleted"`
	IsEdited       bool              `json:"is_edited"`
	CreatedAt      time.Time         `json:"created_at"`
	EditedAt       *time.Time        `json:"edited_at"`
	Reactions      []ReactionSummary `json:"reactions,omitempty"`
}

// View renders m for clients. parent is the resolved reply target, or nil when
// the reference could not be resolved.
func (m *Message) View(parent *Message) MessageView {
	v := MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Seq:            m.Seq,
		IsDeleted:      m.IsDeleted,
		IsEdited:       m.IsEdited,
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
	}
	if !m.IsDeleted {
		v.Content = m.Content
		v.MediaURL = m.MediaURL
		v.MediaType = m.MediaType
	}
	if m.ReplyToMessageID != nil {
		v.ReplyTo = &ReplyPreview{ID: *m.ReplyToMessageID, IsDeleted: true}
		if parent != nil && parent.ID == *m.ReplyToMessageID && !parent.IsDeleted {
			sender := parent.SenderID
			v.ReplyTo.SenderID = &sender
			v.ReplyTo.Content = parent.Content
			v.ReplyTo.IsDeleted = false
		}
	}
	return v
}
