package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anjiri1684/chat_core/database"
	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// testClock advances by step on every read so timestamps are strictly
// increasing unless step is zero.
type testClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newTestClock(step time.Duration) *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), step: step}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentEvent struct {
	conversationID uuid.UUID
	except         uuid.UUID
	users          []uuid.UUID
	event          models.Event
}

type recordingHub struct {
	mu       sync.Mutex
	events   []sentEvent
	detached []uuid.UUID
}

func (h *recordingHub) Broadcast(conversationID uuid.UUID, e models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sentEvent{conversationID: conversationID, event: e})
}

func (h *recordingHub) BroadcastExcept(conversationID, except uuid.UUID, e models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sentEvent{conversationID: conversationID, except: except, event: e})
}

func (h *recordingHub) SendToUsers(userIDs []uuid.UUID, e models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sentEvent{users: userIDs, event: e})
}

func (h *recordingHub) DetachUser(conversationID, userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = append(h.detached, userID)
}

// named returns the recorded events with the given wire name.
func (h *recordingHub) named(name string) []sentEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []sentEvent
	for _, e := range h.events {
		if e.event.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

type recordingPublisher struct {
	mu      sync.Mutex
	records []any
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, v)
	return p.err
}

type fixture struct {
	ctx   context.Context
	store *database.MemoryStore
	hub   *recordingHub
	pub   *recordingPublisher
	clock *testClock
	svc   *Services
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: database.NewMemoryStore(),
		hub:   &recordingHub{},
		pub:   &recordingPublisher{},
		clock: newTestClock(time.Millisecond),
	}
	f.svc = New(Deps{
		Store:             f.store,
		Gate:              f.store,
		Hub:               f.hub,
		Publisher:         f.pub,
		Clock:             f.clock,
		HeartbeatInterval: 30 * time.Second,
	})
	return f
}

func (f *fixture) user(name string) uuid.UUID {
	id := uuid.New()
	f.store.PutUser(models.User{ID: id, FullName: name, Email: name + "@example.com", IsActive: true})
	return id
}

func (f *fixture) befriend(a, b uuid.UUID) {
	f.store.PutFriendship(models.Friendship{RequesterID: a, AddresseeID: b, Status: models.FriendshipAccepted})
}

func (f *fixture) direct(t *testing.T, a, b uuid.UUID) *models.Conversation {
	t.Helper()
	f.befriend(a, b)
	conv, err := f.svc.Conversations.StartDirectMessage(f.ctx, a, b)
	require.NoError(t, err)
	return conv
}

func (f *fixture) group(t *testing.T, owner uuid.UUID, members ...uuid.UUID) *models.Conversation {
	t.Helper()
	conv, err := f.svc.Conversations.CreateGroup(f.ctx, owner, NewGroup{Title: "team", ParticipantIDs: members})
	require.NoError(t, err)
	return conv
}

func (f *fixture) send(t *testing.T, sender, conversationID uuid.UUID, text string) *models.MessageView {
	t.Helper()
	v, err := f.svc.Messages.Send(f.ctx, sender, conversationID, SendInput{Content: &text})
	require.NoError(t, err)
	return v
}

func (f *fixture) participant(t *testing.T, conversationID, userID uuid.UUID) *models.ConversationParticipant {
	t.Helper()
	p, err := f.store.GetParticipant(f.ctx, conversationID, userID)
	require.NoError(t, err)
	return p
}

// activeRows counts the active participant rows of userID in the conversation.
func (f *fixture) activeRows(t *testing.T, conversationID, userID uuid.UUID) int {
	t.Helper()
	active, err := f.store.ListActiveParticipants(f.ctx, conversationID)
	require.NoError(t, err)
	n := 0
	for _, p := range active {
		if p.UserID == userID {
			n++
		}
	}
	return n
}

func (f *fixture) owners(t *testing.T, conversationID uuid.UUID) int {
	t.Helper()
	active, err := f.store.ListActiveParticipants(f.ctx, conversationID)
	require.NoError(t, err)
	n := 0
	for _, p := range active {
		if p.Role == models.RoleOwner {
			n++
		}
	}
	return n
}

func strPtr(s string) *string { return &s }
