package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anjiri1684/chat_core/database"
	"github.com/anjiri1684/chat_core/metrics"
	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MessageService persists messages and fans them out to live sessions.
type MessageService struct {
	store     database.Store
	hub       Broadcaster
	publisher EventPublisher
	clock     Clock
	locks     *keyedMutex
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

type SendInput struct {
	Content          *string
	MediaURL         *string
	MediaType        *string
	ReplyToMessageID *uuid.UUID
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// Send persists a message and pushes it to every session on the
// conversation's channel. Fanout happens under the conversation lock so
// subscribers observe persistence order.
func (s *MessageService) Send(ctx context.Context, senderID, conversationID uuid.UUID, in SendInput) (*models.MessageView, error) {
	content := trimmed(in.Content)
	mediaURL := trimmed(in.MediaURL)
	mediaType := trimmed(in.MediaType)
	if mediaURL == nil {
		mediaType = nil
	}
	if content == nil && mediaURL == nil {
		return nil, ErrEmptyMessage
	}

	view, msg, err := func() (*models.MessageView, *models.Message, error) {
		unlock := s.locks.Lock(conversationKey(conversationID))
		defer unlock()

		var (
			msg    models.Message
			parent *models.Message
		)
		err := s.store.WithTx(ctx, func(tx database.Store) error {
			conv, _, err := activeMember(ctx, tx, conversationID, senderID, true)
			if err != nil {
				return err
			}
			if in.ReplyToMessageID != nil {
				parent, err = tx.GetMessage(ctx, *in.ReplyToMessageID)
				if errors.Is(err, database.ErrNotFound) {
					return ErrMessageNotFound
				}
				if err != nil {
					return err
				}
				if parent.ConversationID != conversationID {
					return ErrMessageNotFound
				}
			}

			conv.MessageSeq++
			msg = models.Message{
				ID:               uuid.New(),
				ConversationID:   conversationID,
				SenderID:         senderID,
				Seq:              conv.MessageSeq,
				Content:          content,
				MediaURL:         mediaURL,
				MediaType:        mediaType,
				ReplyToMessageID: in.ReplyToMessageID,
				CreatedAt:        s.clock.Now(),
			}
			if err := tx.CreateMessage(ctx, &msg); err != nil {
				return err
			}
			conv.LastMessageID = &msg.ID
			conv.LastMessageAt = &msg.CreatedAt
			return tx.SaveConversation(ctx, conv)
		})
		if err != nil {
			return nil, nil, wrapStoreErr("send message", err)
		}

		v := msg.View(parent)
		s.hub.Broadcast(conversationID, models.ReceivedMessage{Message: v})
		return &v, &msg, nil
	}()
	if err != nil {
		return nil, err
	}

	s.metrics.MessageSent()
	record := models.MessageCreatedRecord{
		Type:           models.MessageCreatedType,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Seq:            msg.Seq,
		HasMedia:       msg.MediaURL != nil,
		CreatedAt:      msg.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, conversationID.String(), record); err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("publish message.created failed")
	}
	return view, nil
}

// liveMessage loads a message that has not been tombstoned.
func liveMessage(ctx context.Context, store database.Store, id uuid.UUID) (*models.Message, error) {
	msg, err := store.GetMessage(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

// ToggleReaction adds the reaction if absent, removes it otherwise, and
// broadcasts the resulting count.
func (s *MessageService) ToggleReaction(ctx context.Context, userID, messageID uuid.UUID, emoji string) (*models.ReactionUpdate, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, ErrInvalidReaction
	}
	msg, err := liveMessage(ctx, s.store, messageID)
	if err != nil {
		return nil, wrapStoreErr("toggle reaction", err)
	}

	unlock := s.locks.Lock(conversationKey(msg.ConversationID))
	defer unlock()

	update := models.ReactionUpdate{
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
		UserID:         userID,
		Emoji:          emoji,
	}
	err = s.store.WithTx(ctx, func(tx database.Store) error {
		if _, _, err := activeMember(ctx, tx, msg.ConversationID, userID, true); err != nil {
			return err
		}
		if _, err := liveMessage(ctx, tx, messageID); err != nil {
			return err
		}
		existing, err := tx.FindReaction(ctx, messageID, userID, emoji)
		switch {
		case err == nil:
			if err := tx.DeleteReaction(ctx, existing.ID); err != nil {
				return err
			}
		case errors.Is(err, database.ErrNotFound):
			r := &models.MessageReaction{
				ID:        uuid.New(),
				MessageID: messageID,
				UserID:    userID,
				Emoji:     emoji,
				CreatedAt: s.clock.Now(),
			}
			if err := tx.CreateReaction(ctx, r); err != nil {
				return err
			}
			update.Added = true
		default:
			return err
		}
		update.Count, err = tx.CountReactions(ctx, messageID, emoji)
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("toggle reaction", err)
	}

	s.hub.Broadcast(msg.ConversationID, update)
	s.metrics.ReactionToggled(update.Added)
	return &update, nil
}

// ownMessage loads a live message the caller sent and still may touch.
func ownMessage(ctx context.Context, tx database.Store, userID, messageID uuid.UUID) (*models.Message, error) {
	msg, err := liveMessage(ctx, tx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, ErrNotAuthorized
	}
	if _, _, err := activeMember(ctx, tx, msg.ConversationID, userID, true); err != nil {
		return nil, err
	}
	return msg, nil
}

// Edit replaces the content of the caller's own message.
func (s *MessageService) Edit(ctx context.Context, userID, messageID uuid.UUID, content string) (*models.MessageView, error) {
	text := trimmed(&content)
	msg, err := liveMessage(ctx, s.store, messageID)
	if err != nil {
		return nil, wrapStoreErr("edit message", err)
	}
	unlock := s.locks.Lock(conversationKey(msg.ConversationID))
	defer unlock()

	var view models.MessageView
	err = s.store.WithTx(ctx, func(tx database.Store) error {
		m, err := ownMessage(ctx, tx, userID, messageID)
		if err != nil {
			return err
		}
		if text == nil && m.MediaURL == nil {
			return ErrEmptyMessage
		}
		now := s.clock.Now()
		m.Content = text
		m.IsEdited = true
		m.EditedAt = &now
		if err := tx.SaveMessage(ctx, m); err != nil {
			return err
		}
		var parent *models.Message
		if m.ReplyToMessageID != nil {
			parent, err = tx.GetMessage(ctx, *m.ReplyToMessageID)
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return err
			}
		}
		view = m.View(parent)
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr("edit message", err)
	}

	s.hub.Broadcast(msg.ConversationID, models.MessageEdited{Message: view})
	return &view, nil
}

// Delete tombstones the caller's own message. The row stays so replies keep
// resolving. Deleting twice is a no-op.
func (s *MessageService) Delete(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, database.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if msg.SenderID != userID {
		return ErrNotAuthorized
	}
	if msg.IsDeleted {
		return nil
	}

	unlock := s.locks.Lock(conversationKey(msg.ConversationID))
	defer unlock()

	err = s.store.WithTx(ctx, func(tx database.Store) error {
		m, err := ownMessage(ctx, tx, userID, messageID)
		if err != nil {
			return err
		}
		m.IsDeleted = true
		m.Content = nil
		m.MediaURL = nil
		m.MediaType = nil
		return tx.SaveMessage(ctx, m)
	})
	if errors.Is(err, ErrMessageNotFound) {
		// deleted concurrently
		return nil
	}
	if err != nil {
		return wrapStoreErr("delete message", err)
	}

	s.hub.Broadcast(msg.ConversationID, models.MessageDeleted{
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
	})
	return nil
}

// ClearConversation removes every message and reaction of the conversation.
// Participants and the conversation itself stay.
func (s *MessageService) ClearConversation(ctx context.Context, userID, conversationID uuid.UUID) (*models.ConversationCleared, error) {
	unlock := s.locks.Lock(conversationKey(conversationID))
	defer unlock()

	var removed int64
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		conv, _, err := activeMember(ctx, tx, conversationID, userID, true)
		if err != nil {
			return err
		}
		removed, err = tx.DeleteConversationMessages(ctx, conversationID)
		if err != nil {
			return err
		}
		conv.LastMessageID = nil
		conv.LastMessageAt = nil
		if err := tx.SaveConversation(ctx, conv); err != nil {
			return err
		}
		return tx.ClearLastReadMessage(ctx, conversationID)
	})
	if err != nil {
		return nil, wrapStoreErr("clear conversation", err)
	}

	ev := models.ConversationCleared{
		ConversationID: conversationID,
		ClearedBy:      userID,
		ClearedAt:      s.clock.Now(),
	}
	s.hub.Broadcast(conversationID, ev)
	s.log.Info().
		Str("conversation_id", conversationID.String()).
		Int64("removed", removed).
		Msg("conversation cleared")
	return &ev, nil
}

// History returns one page of messages, oldest first within the page. skip
// counts back from the newest message.
func (s *MessageService) History(ctx context.Context, userID, conversationID uuid.UUID, skip, take int) ([]models.MessageView, error) {
	if _, _, err := activeMember(ctx, s.store, conversationID, userID, false); err != nil {
		return nil, wrapStoreErr("history", err)
	}
	skip, take = normalizePage(skip, take)
	msgs, err := s.store.ListMessages(ctx, conversationID, skip, take)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	reverse(msgs)
	return renderMessages(ctx, s.store, msgs)
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// renderMessages resolves reply targets and reaction summaries for a page.
func renderMessages(ctx context.Context, store database.Store, msgs []models.Message) ([]models.MessageView, error) {
	ids := make([]uuid.UUID, 0, len(msgs))
	var parentIDs []uuid.UUID
	for _, m := range msgs {
		ids = append(ids, m.ID)
		if m.ReplyToMessageID != nil {
			parentIDs = append(parentIDs, *m.ReplyToMessageID)
		}
	}

	parents := map[uuid.UUID]*models.Message{}
	if len(parentIDs) > 0 {
		found, err := store.GetMessages(ctx, parentIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve replies: %w", err)
		}
		for i := range found {
			parents[found[i].ID] = &found[i]
		}
	}

	byMessage := map[uuid.UUID][]models.MessageReaction{}
	if len(ids) > 0 {
		reactions, err := store.ListReactions(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load reactions: %w", err)
		}
		for _, r := range reactions {
			byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
		}
	}

	views := make([]models.MessageView, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		var parent *models.Message
		if m.ReplyToMessageID != nil {
			parent = parents[*m.ReplyToMessageID]
		}
		v := m.View(parent)
		if !m.IsDeleted {
			v.Reactions = models.SummarizeReactions(byMessage[m.ID])
		}
		views = append(views, v)
	}
	return views, nil
}
