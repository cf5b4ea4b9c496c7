package services

import (
	"context"

	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FriendshipGate answers whether two users may open a direct conversation.
type FriendshipGate interface {
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)
}

type gormFriendshipGate struct {
	db *gorm.DB
}

// NewFriendshipGate reads the social graph's friendships table.
func NewFriendshipGate(db *gorm.DB) FriendshipGate {
	return &gormFriendshipGate{db: db}
}

func (g *gormFriendshipGate) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	var rows []models.Friendship
	err := g.db.WithContext(ctx).
		Where("(requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)", a, b, b, a).
		Find(&rows).Error
	if err != nil {
		return false, err
	}
	accepted := false
	for _, f := range rows {
		if f.IsBlocked {
			return false, nil
		}
		if f.Status == models.FriendshipAccepted {
			accepted = true
		}
	}
	return accepted, nil
}
