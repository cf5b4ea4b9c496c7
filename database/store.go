package database

import (
	"context"
	"errors"
	"time"

	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store is the persistence boundary for the conversation aggregate. Methods
// called on the Store handed to WithTx's callback run in one atomic unit.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// FindMissingUsers returns the ids that do not resolve to a user.
	FindMissingUsers(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)

	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	// LockConversation loads the conversation row for update.
	LockConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	SaveConversation(ctx context.Context, c *models.Conversation) error
	FindDirectConversation(ctx context.Context, directKey string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID, skip, take int) ([]models.Conversation, error)
	SearchConversations(ctx context.Context, userID uuid.UUID, query string, skip, take int) ([]models.Conversation, error)

	GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*models.ConversationParticipant, error)
	ListActiveParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.ConversationParticipant, error)
	// SaveParticipant inserts or updates the single row for the pair.
	SaveParticipant(ctx context.Context, p *models.ConversationParticipant) error
	ActiveConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	CoParticipantIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	ClearLastReadMessage(ctx context.Context, conversationID uuid.UUID) error

	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	GetMessages(ctx context.Context, ids []uuid.UUID) ([]models.Message, error)
	SaveMessage(ctx context.Context, m *models.Message) error
	// ListMessages pages newest first.
	ListMessages(ctx context.Context, conversationID uuid.UUID, skip, take int) ([]models.Message, error)
	// DeleteConversationMessages removes messages and their reactions.
	DeleteConversationMessages(ctx context.Context, conversationID uuid.UUID) (int64, error)
	// CountUnread counts live messages from other senders created after the
	// given instant, or all of them when after is nil.
	CountUnread(ctx context.Context, conversationID, userID uuid.UUID, after *time.Time) (int64, error)

	FindReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (*models.MessageReaction, error)
	CreateReaction(ctx context.Context, r *models.MessageReaction) error
	DeleteReaction(ctx context.Context, id uuid.UUID) error
	CountReactions(ctx context.Context, messageID uuid.UUID, emoji string) (int64, error)
	ListReactions(ctx context.Context, messageIDs []uuid.UUID) ([]models.MessageReaction, error)
}
