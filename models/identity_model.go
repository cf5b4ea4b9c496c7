package models

import "github.com/google/uuid"

// Identity is resolved once per request or connection from the bearer token.
type Identity struct {
	UserID uuid.UUID
	Role   string
}
