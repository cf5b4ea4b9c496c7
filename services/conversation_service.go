package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/anjiri1684/chat_core/database"
	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(skip, take int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if take <= 0 {
		take = defaultPageSize
	}
	if take > maxPageSize {
		take = maxPageSize
	}
	return skip, take
}

// ConversationService owns conversation lifecycle and membership.
type ConversationService struct {
	store database.Store
	gate  FriendshipGate
	hub   Broadcaster
	clock Clock
	locks *keyedMutex
	log   zerolog.Logger
}

// NewGroup describes a group to create. The owner is added implicitly.
type NewGroup struct {
	Title          string
	Description    *string
	ImageURL       *string
	ParticipantIDs []uuid.UUID
}

// GroupUpdate carries the fields to change; nil leaves a field as is.
type GroupUpdate struct {
	Title       *string
	Description *string
	ImageURL    *string
}

// StartDirectMessage returns the direct conversation between the pair,
// creating it on first use. The result does not depend on argument order.
func (s *ConversationService) StartDirectMessage(ctx context.Context, requesterID, targetID uuid.UUID) (*models.Conversation, error) {
	if requesterID == targetID {
		return nil, ErrSelfConversation
	}
	ok, err := s.gate.AreFriends(ctx, requesterID, targetID)
	if err != nil {
		return nil, fmt.Errorf("check friendship: %w", err)
	}
	if !ok {
		return nil, ErrNotFriends
	}

	key := models.DirectKeyFor(requesterID, targetID)
	unlock := s.locks.Lock("dm:" + key)
	defer unlock()

	existing, err := s.store.FindDirectConversation(ctx, key)
	switch {
	case err == nil:
		return s.reviveDirect(ctx, existing)
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}

	now := s.clock.Now()
	conv := &models.Conversation{
		ID:        uuid.New(),
		Kind:      models.ConversationDirect,
		DirectKey: &key,
		CreatedBy: requesterID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.CreateConversation(ctx, conv); err != nil {
			return err
		}
		for _, id := range []uuid.UUID{requesterID, targetID} {
			p := &models.ConversationParticipant{
				ConversationID: conv.ID,
				UserID:         id,
				Role:           models.RoleMember,
				IsActive:       true,
				JoinedAt:       now,
			}
			if err := tx.SaveParticipant(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, database.ErrDuplicate) {
		// another instance won the insert
		existing, ferr := s.store.FindDirectConversation(ctx, key)
		if ferr != nil {
			return nil, fmt.Errorf("find direct conversation: %w", ferr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create direct conversation: %w", err)
	}
	s.log.Info().Str("conversation_id", conv.ID.String()).Msg("direct conversation created")
	return conv, nil
}

func (s *ConversationService) reviveDirect(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	if conv.IsActive {
		return conv, nil
	}
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		c, err := tx.LockConversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		c.IsActive = true
		if err := tx.SaveConversation(ctx, c); err != nil {
			return err
		}
		conv = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reactivate direct conversation: %w", err)
	}
	return conv, nil
}

// CreateGroup creates a group chat owned by ownerID.
func (s *ConversationService) CreateGroup(ctx context.Context, ownerID uuid.UUID, in NewGroup) (*models.Conversation, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrInvalidTitle
	}
	if len(in.ParticipantIDs) == 0 {
		return nil, ErrInsufficientParticipants
	}

	seen := map[uuid.UUID]bool{ownerID: true}
	var members []uuid.UUID
	for _, id := range in.ParticipantIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	if len(members) == 0 {
		return nil, ErrInsufficientParticipants
	}

	missing, err := s.store.FindMissingUsers(ctx, append([]uuid.UUID{ownerID}, members...))
	if err != nil {
		return nil, fmt.Errorf("resolve participants: %w", err)
	}
	if len(missing) > 0 {
		return nil, &Error{Kind: KindUnknownParticipant, Reason: "unknown user " + missing[0].String()}
	}

	now := s.clock.Now()
	conv := &models.Conversation{
		ID:          uuid.New(),
		Kind:        models.ConversationGroup,
		Title:       &title,
		Description: in.Description,
		ImageURL:    in.ImageURL,
		CreatedBy:   ownerID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.store.WithTx(ctx, func(tx database.Store) error {
		if err := tx.CreateConversation(ctx, conv); err != nil {
			return err
		}
		owner := &models.ConversationParticipant{
			ConversationID: conv.ID,
			UserID:         ownerID,
			Role:           models.RoleOwner,
			IsActive:       true,
			JoinedAt:       now,
		}
		if err := tx.SaveParticipant(ctx, owner); err != nil {
			return err
		}
		for _, id := range members {
			p := &models.ConversationParticipant{
				ConversationID: conv.ID,
				UserID:         id,
				Role:           models.RoleMember,
				IsActive:       true,
				JoinedAt:       now,
			}
			if err := tx.SaveParticipant(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.log.Info().
		Str("conversation_id", conv.ID.String()).
		Int("members", len(members)+1).
		Msg("group created")
	return conv, nil
}

// loadManaged locks a group conversation and the actor's active row.
func loadManaged(ctx context.Context, tx database.Store, conversationID, actorID uuid.UUID) (*models.Conversation, *models.ConversationParticipant, error) {
	conv, err := tx.LockConversation(ctx, conversationID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if conv.IsDirect() {
		return nil, nil, ErrInvalidConversationType
	}
	actor, err := tx.GetParticipant(ctx, conversationID, actorID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, nil, err
	}
	if !actor.IsActive || !conv.IsActive {
		return nil, nil, ErrNotAuthorized
	}
	return conv, actor, nil
}

// AddParticipant adds userID to a group, reactivating a previous row if the
// user had left.
func (s *ConversationService) AddParticipant(ctx context.Context, actorID, conversationID, userID uuid.UUID) (*models.ConversationParticipant, error) {
	unlock := s.locks.Lock(conversationKey(conversationID))
	defer unlock()

	var added *models.ConversationParticipant
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		_, actor, err := loadManaged(ctx, tx, conversationID, actorID)
		if err != nil {
			return err
		}
		if !actor.CanManage() {
			return ErrNotAuthorized
		}
		missing, err := tx.FindMissingUsers(ctx, []uuid.UUID{userID})
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return ErrUnknownParticipant
		}

		now := s.clock.Now()
		p, err := tx.GetParticipant(ctx, conversationID, userID)
		switch {
		case errors.Is(err, database.ErrNotFound):
			p = &models.ConversationParticipant{ConversationID: conversationID, UserID: userID}
		case err != nil:
			return err
		case p.IsActive:
			return ErrAlreadyMember
		}
		p.Role = models.RoleMember
		p.IsActive = true
		p.JoinedAt = now
		p.LeftAt = nil
		if err := tx.SaveParticipant(ctx, p); err != nil {
			return err
		}
		added = p
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr("add participant", err)
	}

	s.hub.Broadcast(conversationID, models.ConversationUpdated{
		ConversationID: conversationID,
		Change:         models.ChangeParticipantAdded,
		ActorID:        actorID,
		UserID:         &userID,
		IsActive:       true,
	})
	return added, nil
}

// successor picks who inherits ownership: the earliest-joined Admin, else
// the earliest-joined Member. Ties on joinedAt fall back to the user id.
func successor(candidates []models.ConversationParticipant) *models.ConversationParticipant {
	if len(candidates) == 0 {
		return nil
	}
	sorted := append([]models.ConversationParticipant(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.UserID.String() < b.UserID.String()
	})
	for i := range sorted {
		if sorted[i].Role == models.RoleAdmin {
			return &sorted[i]
		}
	}
	return &sorted[0]
}

// Leave deactivates the caller's participation. An Owner hands ownership to a
// successor, or dissolves the group when nobody else is left.
func (s *ConversationService) Leave(ctx context.Context, userID, conversationID uuid.UUID) error {
	unlock := s.locks.Lock(conversationKey(conversationID))
	defer unlock()

	var (
		conv     *models.Conversation
		promoted *models.ConversationParticipant
	)
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		c, err := tx.LockConversation(ctx, conversationID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrConversationNotFound
		}
		if err != nil {
			return err
		}
		if c.IsDirect() {
			return ErrCannotLeaveDirectMessage
		}
		p, err := tx.GetParticipant(ctx, conversationID, userID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotAMember
		}
		if err != nil {
			return err
		}
		if !p.IsActive {
			return ErrNotAMember
		}

		now := s.clock.Now()
		if p.Role == models.RoleOwner {
			active, err := tx.ListActiveParticipants(ctx, conversationID)
			if err != nil {
				return err
			}
			var others []models.ConversationParticipant
			for _, o := range active {
				if o.UserID != userID {
					others = append(others, o)
				}
			}
			if next := successor(others); next != nil {
				next.Role = models.RoleOwner
				if err := tx.SaveParticipant(ctx, next); err != nil {
					return err
				}
				promoted = next
			} else {
				c.IsActive = false
				if err := tx.SaveConversation(ctx, c); err != nil {
					return err
				}
			}
			p.Role = models.RoleMember
		}
		p.IsActive = false
		p.LeftAt = &now
		if err := tx.SaveParticipant(ctx, p); err != nil {
			return err
		}
		conv = c
		return nil
	})
	if err != nil {
		return wrapStoreErr("leave conversation", err)
	}

	s.hub.DetachUser(conversationID, userID)
	s.hub.Broadcast(conversationID, models.ConversationUpdated{
		ConversationID: conversationID,
		Change:         models.ChangeParticipantLeft,
		ActorID:        userID,
		UserID:         &userID,
		IsActive:       conv.IsActive,
	})
	if promoted != nil {
		s.hub.Broadcast(conversationID, models.ConversationUpdated{
			ConversationID: conversationID,
			Change:         models.ChangeRoleChanged,
			ActorID:        userID,
			UserID:         &promoted.UserID,
			IsActive:       true,
		})
		s.log.Info().
			Str("conversation_id", conversationID.String()).
			Str("new_owner", promoted.UserID.String()).
			Msg("ownership transferred")
	}
	if !conv.IsActive {
		s.log.Info().Str("conversation_id", conversationID.String()).Msg("group dissolved")
	}
	return nil
}

// Kick removes userID from a group. Owner only.
func (s *ConversationService) Kick(ctx context.Context, actorID, conversationID, userID uuid.UUID) error {
	unlock := s.locks.Lock(conversationKey(conversationID))
	defer unlock()

	err := s.store.WithTx(ctx, func(tx database.Store) error {
		_, actor, err := loadManaged(ctx, tx, conversationID, actorID)
		if err != nil {
			return err
		}
		if actor.Role != models.RoleOwner {
			return ErrNotAuthorized
		}
		if userID == actorID {
			return ErrCannotKickSelf
		}
		p, err := tx.GetParticipant(ctx, conversationID, userID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrParticipantNotFound
		}
		if err != nil {
			return err
		}
		if !p.IsActive {
			return ErrParticipantNotFound
		}
		now := s.clock.Now()
		p.IsActive = false
		p.LeftAt = &now
		p.Role = models.RoleMember
		return tx.SaveParticipant(ctx, p)
	})
	if err != nil {
		return wrapStoreErr("kick participant", err)
	}

	s.hub.DetachUser(conversationID, userID)
	s.hub.Broadcast(conversationID, models.ConversationUpdated{
		ConversationID: conversationID,
		Change:         models.ChangeParticipantRemoved,
		ActorID:        actorID,
		UserID:         &userID,
		IsActive:       true,
	})
	s.hub.SendToUsers([]uuid.UUID{userID}, models.ConversationUpdated{
		ConversationID: conversationID,
		Change:         models.ChangeParticipantRemoved,
		ActorID:        actorID,
		UserID:         &userID,
		IsActive:       true,
	})
	return nil
}

// UpdateGroup changes a group's title, description or image. Owner or Admin.
func (s *ConversationService) UpdateGroup(ctx context.Context, actorID, conversationID uuid.UUID, in GroupUpdate) (*models.Conversation, error) {
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, ErrInvalidTitle
		}
		in.Title = &t
	}

	unlock := s.locks.Lock(conversationKey(conversationID))
	defer unlock()

	var updated *models.Conversation
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		conv, actor, err := loadManaged(ctx, tx, conversationID, actorID)
		if err != nil {
			return err
		}
		if !actor.CanManage() {
			return ErrNotAuthorized
		}
		if in.Title != nil {
			conv.Title = in.Title
		}
		if in.Description != nil {
			conv.Description = in.Description
		}
		if in.ImageURL != nil {
			conv.ImageURL = in.ImageURL
		}
		if err := tx.SaveConversation(ctx, conv); err != nil {
			return err
		}
		updated = conv
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr("update group", err)
	}

	s.hub.Broadcast(conversationID, models.ConversationUpdated{
		ConversationID: conversationID,
		Change:         models.ChangeDetailsUpdated,
		ActorID:        actorID,
		IsActive:       updated.IsActive,
	})
	return updated, nil
}

// ChangeRole promotes a member to Admin or demotes an Admin. Owner only.
func (s *ConversationService) ChangeRole(ctx context.Context, actorID, conversationID, userID uuid.UUID, role models.ParticipantRole) (*models.ConversationParticipant, error) {
	if role != models.RoleAdmin && role != models.RoleMember {
		return nil, ErrInvalidRole
	}
	if actorID == userID {
		return nil, ErrInvalidRole
	}

	unlock := s.locks.Lock(conversationKey(conversationID))
	defer unlock()

	var changed *models.ConversationParticipant
	err := s.store.WithTx(ctx, func(tx database.Store) error {
		_, actor, err := loadManaged(ctx, tx, conversationID, actorID)
		if err != nil {
			return err
		}
		if actor.Role != models.RoleOwner {
			return ErrNotAuthorized
		}
		p, err := tx.GetParticipant(ctx, conversationID, userID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrParticipantNotFound
		}
		if err != nil {
			return err
		}
		if !p.IsActive {
			return ErrParticipantNotFound
		}
		p.Role = role
		if err := tx.SaveParticipant(ctx, p); err != nil {
			return err
		}
		changed = p
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr("change role", err)
	}

	s.hub.Broadcast(conversationID, models.ConversationUpdated{
		ConversationID: conversationID,
		Change:         models.ChangeRoleChanged,
		ActorID:        actorID,
		UserID:         &userID,
		IsActive:       true,
	})
	return changed, nil
}

// RequireMember fails unless userID actively participates in the conversation.
func (s *ConversationService) RequireMember(ctx context.Context, userID, conversationID uuid.UUID) error {
	_, _, err := activeMember(ctx, s.store, conversationID, userID, false)
	return wrapStoreErr("check membership", err)
}

// Get returns a conversation with one page of its history.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID uuid.UUID, skip, take int) (*models.ConversationDetail, error) {
	conv, p, err := activeMember(ctx, s.store, conversationID, userID, false)
	if err != nil {
		return nil, wrapStoreErr("get conversation", err)
	}
	participants, err := s.store.ListActiveParticipants(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	conv.Participants = participants

	skip, take = normalizePage(skip, take)
	msgs, err := s.store.ListMessages(ctx, conversationID, skip, take)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	reverse(msgs)
	views, err := renderMessages(ctx, s.store, msgs)
	if err != nil {
		return nil, err
	}
	unread, err := unreadFor(ctx, s.store, conv, p)
	if err != nil {
		return nil, err
	}
	return &models.ConversationDetail{Conversation: *conv, Messages: views, UnreadCount: unread}, nil
}

// ListForUser returns the caller's active conversations, most recent first.
func (s *ConversationService) ListForUser(ctx context.Context, userID uuid.UUID, skip, take int) ([]models.ConversationSummary, error) {
	skip, take = normalizePage(skip, take)
	convs, err := s.store.ListConversations(ctx, userID, skip, take)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return s.summarize(ctx, userID, convs)
}

// Search matches group titles and the names of other participants.
func (s *ConversationService) Search(ctx context.Context, userID uuid.UUID, query string, skip, take int) ([]models.ConversationSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.ListForUser(ctx, userID, skip, take)
	}
	skip, take = normalizePage(skip, take)
	convs, err := s.store.SearchConversations(ctx, userID, query, skip, take)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	return s.summarize(ctx, userID, convs)
}

func (s *ConversationService) summarize(ctx context.Context, userID uuid.UUID, convs []models.Conversation) ([]models.ConversationSummary, error) {
	out := make([]models.ConversationSummary, 0, len(convs))
	for i := range convs {
		conv := convs[i]
		p, err := s.store.GetParticipant(ctx, conv.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("load participant: %w", err)
		}
		participants, err := s.store.ListActiveParticipants(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("list participants: %w", err)
		}
		conv.Participants = participants

		summary := models.ConversationSummary{Conversation: conv}
		if conv.LastMessageID != nil {
			last, err := s.store.GetMessage(ctx, *conv.LastMessageID)
			switch {
			case err == nil:
				v := last.View(nil)
				summary.LastMessage = &v
			case !errors.Is(err, database.ErrNotFound):
				return nil, fmt.Errorf("load last message: %w", err)
			}
		}
		summary.UnreadCount, err = unreadFor(ctx, s.store, &conv, p)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

// wrapStoreErr passes service errors through and wraps the rest.
func wrapStoreErr(op string, err error) error {
	if err == nil || KindOf(err) != "" {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
