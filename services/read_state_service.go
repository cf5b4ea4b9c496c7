package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/anjiri1684/chat_core/database"
	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
)

// ReadStateService tracks how far each participant has read.
type ReadStateService struct {
	store database.Store
	hub   Broadcaster
	clock Clock
	locks *keyedMutex
}

// MarkRead records that userID has seen everything in the conversation up to
// now and broadcasts the receipt.
func (s *ReadStateService) MarkRead(ctx context.Context, userID, conversationID uuid.UUID) (*models.ReadReceipt, error) {
	unlock := s.locks.Lock(conversationKey(conversationID))
	defer unlock()

	var receipt models.ReadReceipt
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		conv, p, err := activeMember(ctx, tx, conversationID, userID, true)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		p.LastReadAt = &now
		p.LastReadMessageID = conv.LastMessageID
		if err := tx.SaveParticipant(ctx, p); err != nil {
			return err
		}
		receipt = models.ReadReceipt{
			ConversationID: conversationID,
			UserID:         userID,
			MessageID:      conv.LastMessageID,
			ReadAt:         now,
		}
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr("mark read", err)
	}

	s.hub.Broadcast(conversationID, receipt)
	return &receipt, nil
}

// MarkMessageRead marks the conversation holding messageID as read.
func (s *ReadStateService) MarkMessageRead(ctx context.Context, userID, messageID uuid.UUID) (*models.ReadReceipt, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark message read: %w", err)
	}
	return s.MarkRead(ctx, userID, msg.ConversationID)
}

// UnreadCount counts live messages from others since the caller last read.
func (s *ReadStateService) UnreadCount(ctx context.Context, userID, conversationID uuid.UUID) (int64, error) {
	conv, p, err := activeMember(ctx, s.store, conversationID, userID, false)
	if err != nil {
		return 0, wrapStoreErr("unread count", err)
	}
	return unreadFor(ctx, s.store, conv, p)
}

// TotalUnreadCount sums UnreadCount over every active participation.
func (s *ReadStateService) TotalUnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	ids, err := s.store.ActiveConversationIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list participations: %w", err)
	}
	var total int64
	for _, id := range ids {
		n, err := s.UnreadCount(ctx, userID, id)
		if errors.Is(err, ErrNotAMember) || errors.Is(err, ErrConversationNotFound) {
			// left between the listing and the count
			continue
		}
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func unreadFor(ctx context.Context, store database.Store, conv *models.Conversation, p *models.ConversationParticipant) (int64, error) {
	if p.LastReadMessageID != nil && conv.LastMessageID != nil && *p.LastReadMessageID == *conv.LastMessageID {
		return 0, nil
	}
	n, err := store.CountUnread(ctx, conv.ID, p.UserID, p.LastReadAt)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
