package models

import (
	"time"

	"github.com/google/uuid"
)

type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

// ConversationParticipant is keyed by (conversation, user), so a user has at
// most one row per conversation for its whole history.
type ConversationParticipant struct {
	ConversationID uuid.UUID       `gorm:"type:uuid;primaryKey" json:"conversation_id"`
	UserID         uuid.UUID       `gorm:"type:uuid;primaryKey;index" json:"user_id"`
	Role           ParticipantRole `gorm:"size:10;not null;default:'member'" json:"role"`
	IsActive       bool            `gorm:"not null" json:"is_active"`
	JoinedAt       time.Time       `gorm:"not null" json:"joined_at"`
	LeftAt         *time.Time      `json:"left_at"`

	LastReadAt        *time.Time `json:"last_read_at"`
	LastReadMessageID *uuid.UUID `gorm:"type:uuid" json:"last_read_message_id"`
}

func (p *ConversationParticipant) CanManage() bool {
	return p.IsActive && (p.Role == RoleOwner || p.Role == RoleAdmin)
}
