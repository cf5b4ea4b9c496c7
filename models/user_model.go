package models

import (
	"time"

	"github.com/google/uuid"
)

// User mirrors the identity service's users table; chat only reads it.
type User struct {
	ID                uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	FullName          string    `gorm:"size:255;not null" json:"full_name"`
	Email             string    `gorm:"size:255;not null;unique" json:"email"`
	ProfilePictureURL *string   `gorm:"size:255" json:"profile_picture_url"`
	IsActive          bool      `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
