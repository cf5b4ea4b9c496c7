package services

import (
	"context"
	"errors"
	"time"

	"github.com/anjiri1684/chat_core/database"
	"github.com/anjiri1684/chat_core/metrics"
	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Broadcaster pushes events to live sessions. Implementations only enqueue;
// they never wait on a client.
type Broadcaster interface {
	Broadcast(conversationID uuid.UUID, e models.Event)
	BroadcastExcept(conversationID, exceptUserID uuid.UUID, e models.Event)
	SendToUsers(userIDs []uuid.UUID, e models.Event)
	DetachUser(conversationID, userID uuid.UUID)
}

// EventPublisher forwards domain events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, key string, v any) error
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(uuid.UUID, models.Event)                 {}
func (nopBroadcaster) BroadcastExcept(uuid.UUID, uuid.UUID, models.Event) {}
func (nopBroadcaster) SendToUsers([]uuid.UUID, models.Event)              {}
func (nopBroadcaster) DetachUser(uuid.UUID, uuid.UUID)                    {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

type Deps struct {
	Store     database.Store
	Gate      FriendshipGate
	Hub       Broadcaster
	Publisher EventPublisher
	Clock     Clock
	Metrics   *metrics.Metrics
	Log       zerolog.Logger

	HeartbeatInterval time.Duration
}

// Services bundles the chat core. All members share one set of
// per-conversation locks.
type Services struct {
	Conversations *ConversationService
	Messages      *MessageService
	ReadState     *ReadStateService
	Presence      *PresenceService
}

func New(d Deps) *Services {
	if d.Hub == nil {
		d.Hub = nopBroadcaster{}
	}
	if d.Publisher == nil {
		d.Publisher = nopPublisher{}
	}
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.HeartbeatInterval <= 0 {
		d.HeartbeatInterval = 30 * time.Second
	}
	locks := newKeyedMutex()
	return &Services{
		Conversations: &ConversationService{store: d.Store, gate: d.Gate, hub: d.Hub, clock: d.Clock, locks: locks, log: d.Log},
		Messages:      &MessageService{store: d.Store, hub: d.Hub, publisher: d.Publisher, clock: d.Clock, locks: locks, metrics: d.Metrics, log: d.Log},
		ReadState:     &ReadStateService{store: d.Store, hub: d.Hub, clock: d.Clock, locks: locks},
		Presence:      NewPresenceService(d.Store, d.Hub, d.Clock, d.HeartbeatInterval, d.Metrics, d.Log),
	}
}

func conversationKey(id uuid.UUID) string { return "conversation:" + id.String() }

// activeMember loads the conversation and the caller's active participation.
func activeMember(ctx context.Context, store database.Store, conversationID, userID uuid.UUID, forUpdate bool) (*models.Conversation, *models.ConversationParticipant, error) {
	var (
		conv *models.Conversation
		err  error
	)
	if forUpdate {
		conv, err = store.LockConversation(ctx, conversationID)
	} else {
		conv, err = store.GetConversation(ctx, conversationID)
	}
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	p, err := store.GetParticipant(ctx, conversationID, userID)
	if errors.Is(err, database.ErrNotFound) {
		return conv, nil, ErrNotAMember
	}
	if err != nil {
		return nil, nil, err
	}
	if !p.IsActive || !conv.IsActive {
		return conv, nil, ErrNotAMember
	}
	return conv, p, nil
}
