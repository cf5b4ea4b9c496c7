package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
)

// Friendship is owned by the social graph service; this module only reads it.
type Friendship struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	RequesterID uuid.UUID `gorm:"type:uuid;not null;index" json:"requester_id"`
	AddresseeID uuid.UUID `gorm:"type:uuid;not null;index" json:"addressee_id"`
	Status      string    `gorm:"size:20;not null;default:'pending'" json:"status"`
	IsBlocked   bool      `gorm:"not null;default:false" json:"is_blocked"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
