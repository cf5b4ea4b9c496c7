package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageReaction struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_reaction_unique,priority:1" json:"message_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_reaction_unique,priority:2" json:"user_id"`
	Emoji     string    `gorm:"size:64;not null;uniqueIndex:idx_reaction_unique,priority:3" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionSummary groups one emoji on one message.
type ReactionSummary struct {
	Emoji string      `json:"emoji"`
	Count int         `json:"count"`
	Users []uuid.UUID `json:"users"`
}

// SummarizeReactions groups reactions by emoji, keeping first-seen order.
func SummarizeReactions(reactions []MessageReaction) []ReactionSummary {
	var out []ReactionSummary
	index := map[string]int{}
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(out)
			index[r.Emoji] = i
			out = append(out, ReactionSummary{Emoji: r.Emoji})
		}
		out[i].Count++
		out[i].Users = append(out[i].Users, r.UserID)
	}
	return out
}
