package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) FindMissingUsers(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(found))
	for _, id := range found {
		seen[id] = true
	}
	var missing []uuid.UUID
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *GormStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return translate(s.db.WithContext(ctx).Omit(clause.Associations).Create(c).Error)
}

func (s *GormStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormStore) LockConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&c, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormStore) SaveConversation(ctx context.Context, c *models.Conversation) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Save(c).Error
}

func (s *GormStore) FindDirectConversation(ctx context.Context, directKey string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.WithContext(ctx).
		Where("direct_key = ? AND kind = ?", directKey, models.ConversationDirect).
		First(&c).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormStore) memberConversations(ctx context.Context, userID uuid.UUID) *gorm.DB {
	return s.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id AND cp.user_id = ? AND cp.is_active = ?", userID, true).
		Order("conversations.last_message_at DESC NULLS LAST").
		Order("conversations.updated_at DESC")
}

func (s *GormStore) ListConversations(ctx context.Context, userID uuid.UUID, skip, take int) ([]models.Conversation, error) {
	var out []models.Conversation
	err := s.memberConversations(ctx, userID).
		Offset(skip).Limit(take).
		Find(&out).Error
	return out, err
}

func (s *GormStore) SearchConversations(ctx context.Context, userID uuid.UUID, query string, skip, take int) ([]models.Conversation, error) {
	pattern := likePattern(query)
	var out []models.Conversation
	err := s.memberConversations(ctx, userID).
		Where(`conversations.title ILIKE ? ESCAPE '\' OR EXISTS (
			SELECT 1 FROM conversation_participants op
			JOIN users u ON u.id = op.user_id
			WHERE op.conversation_id = conversations.id AND op.user_id <> ? AND u.full_name ILIKE ? ESCAPE '\')`,
			pattern, userID, pattern).
		Offset(skip).Limit(take).
		Find(&out).Error
	return out, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern matches query literally anywhere in the column.
func likePattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

func (s *GormStore) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*models.ConversationParticipant, error) {
	var p models.ConversationParticipant
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *GormStore) ListActiveParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.ConversationParticipant, error) {
	var out []models.ConversationParticipant
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND is_active = ?", conversationID, true).
		Order("joined_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) SaveParticipant(ctx context.Context, p *models.ConversationParticipant) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(p).Error
}

func (s *GormStore) ActiveConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Pluck("conversation_id", &ids).Error
	return ids, err
}

func (s *GormStore) CoParticipantIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Distinct("user_id").
		Where("is_active = ? AND user_id <> ?", true, userID).
		Where("conversation_id IN (?)",
			s.db.Model(&models.ConversationParticipant{}).
				Select("conversation_id").
				Where("user_id = ? AND is_active = ?", userID, true)).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (s *GormStore) ClearLastReadMessage(ctx context.Context, conversationID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", conversationID).
		Update("last_read_message_id", nil).Error
}

func (s *GormStore) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return translate(s.db.WithContext(ctx).Create(m).Error)
}

func (s *GormStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var m models.Message
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *GormStore) GetMessages(ctx context.Context, ids []uuid.UUID) ([]models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.Message
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

func (s *GormStore) SaveMessage(ctx context.Context, m *models.Message) error {
	return s.db.WithContext(ctx).Save(m).Error
}

func (s *GormStore) ListMessages(ctx context.Context, conversationID uuid.UUID, skip, take int) ([]models.Message, error) {
	var out []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq DESC").
		Offset(skip).Limit(take).
		Find(&out).Error
	return out, err
}

func (s *GormStore) DeleteConversationMessages(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	db := s.db.WithContext(ctx)
	err := db.Where("message_id IN (?)",
		db.Model(&models.Message{}).Select("id").Where("conversation_id = ?", conversationID)).
		Delete(&models.MessageReaction{}).Error
	if err != nil {
		return 0, err
	}
	res := db.Where("conversation_id = ?", conversationID).Delete(&models.Message{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) CountUnread(ctx context.Context, conversationID, userID uuid.UUID, after *time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_deleted = ?", conversationID, userID, false)
	if after != nil {
		q = q.Where("created_at > ?", *after)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

func (s *GormStore) FindReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (*models.MessageReaction, error) {
	var r models.MessageReaction
	err := s.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		First(&r).Error
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *GormStore) CreateReaction(ctx context.Context, r *models.MessageReaction) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return translate(s.db.WithContext(ctx).Create(r).Error)
}

func (s *GormStore) DeleteReaction(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Delete(&models.MessageReaction{}, "id = ?", id).Error
}

func (s *GormStore) CountReactions(ctx context.Context, messageID uuid.UUID, emoji string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.MessageReaction{}).
		Where("message_id = ? AND emoji = ?", messageID, emoji).
		Count(&n).Error
	return n, err
}

func (s *GormStore) ListReactions(ctx context.Context, messageIDs []uuid.UUID) ([]models.MessageReaction, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var out []models.MessageReaction
	err := s.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
