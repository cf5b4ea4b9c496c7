package services

import (
	"testing"
	"time"

	"github.com/anjiri1684/chat_core/database"
	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type presenceFixture struct {
	*fixture
	presence *PresenceService
}

func newPresenceFixture(t *testing.T) *presenceFixture {
	f := newFixture(t)
	f.clock = newTestClock(0)
	return &presenceFixture{
		fixture:  f,
		presence: NewPresenceService(f.store, f.hub, f.clock, 10*time.Second, nil, zerolog.Nop()),
	}
}

func (f *presenceFixture) onlineCount() int {
	f.presence.mu.Lock()
	defer f.presence.mu.Unlock()
	return f.presence.onlineCountLocked(f.clock.Now())
}

func (f *presenceFixture) changes() []models.PresenceChange {
	var out []models.PresenceChange
	for _, e := range f.hub.named(models.EventUserOnlineStatusChanged) {
		out = append(out, e.event.(models.PresenceChange))
	}
	return out
}

func TestPresence_MultipleSessions(t *testing.T) {
	f := newPresenceFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	f.direct(t, alice, bob)

	f.presence.Connect(f.ctx, alice, "s1")
	f.presence.Connect(f.ctx, alice, "s2")
	require.True(t, f.presence.IsOnline(alice))
	require.Equal(t, 1, f.onlineCount())

	changes := f.changes()
	require.Len(t, changes, 1)
	require.Equal(t, alice, changes[0].UserID)
	require.True(t, changes[0].IsOnline)
	require.Equal(t, []uuid.UUID{bob}, f.hub.named(models.EventUserOnlineStatusChanged)[0].users)

	f.presence.Disconnect(f.ctx, alice, "s1")
	require.True(t, f.presence.IsOnline(alice))
	require.Len(t, f.changes(), 1)

	f.presence.Disconnect(f.ctx, alice, "s2")
	require.False(t, f.presence.IsOnline(alice))
	changes = f.changes()
	require.Len(t, changes, 2)
	require.False(t, changes[1].IsOnline)
}

func TestPresence_SweepExpiresSilentSessions(t *testing.T) {
	f := newPresenceFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	f.direct(t, alice, bob)

	var expiredSessions []string
	f.presence.OnExpire(func(userID uuid.UUID, sessionID string) {
		require.Equal(t, alice, userID)
		expiredSessions = append(expiredSessions, sessionID)
	})

	f.presence.Connect(f.ctx, alice, "quiet")
	f.presence.Connect(f.ctx, bob, "busy")

	f.clock.Advance(15 * time.Second)
	f.presence.Heartbeat(f.ctx, bob, "busy")
	require.Zero(t, f.presence.Sweep(f.ctx))

	f.clock.Advance(6 * time.Second)
	require.False(t, f.presence.IsOnline(alice))
	require.Equal(t, 1, f.presence.Sweep(f.ctx))
	require.Equal(t, []string{"quiet"}, expiredSessions)
	require.True(t, f.presence.IsOnline(bob))

	snapshot := f.presence.Snapshot([]uuid.UUID{alice, bob})
	require.Equal(t, map[uuid.UUID]bool{alice: false, bob: true}, snapshot)

	changes := f.changes()
	last := changes[len(changes)-1]
	require.Equal(t, alice, last.UserID)
	require.False(t, last.IsOnline)
}

func TestPresence_HeartbeatAfterSweepAnnouncesAgain(t *testing.T) {
	f := newPresenceFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	f.direct(t, alice, bob)

	f.presence.Connect(f.ctx, alice, "s1")
	f.clock.Advance(time.Minute)
	require.Equal(t, 1, f.presence.Sweep(f.ctx))

	f.presence.Heartbeat(f.ctx, alice, "s1")
	require.True(t, f.presence.IsOnline(alice))

	changes := f.changes()
	require.Len(t, changes, 3)
	require.True(t, changes[2].IsOnline)
}

func TestPresence_DisconnectAfterTimeoutStillAnnouncesOffline(t *testing.T) {
	f := newPresenceFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	f.direct(t, alice, bob)

	f.presence.Connect(f.ctx, alice, "s1")
	f.clock.Advance(25 * time.Second)
	require.False(t, f.presence.IsOnline(alice))
	require.Zero(t, f.onlineCount())

	f.presence.Disconnect(f.ctx, alice, "s1")
	require.Zero(t, f.presence.Sweep(f.ctx))

	changes := f.changes()
	require.Len(t, changes, 2)
	require.True(t, changes[0].IsOnline)
	require.False(t, changes[1].IsOnline)
	require.Equal(t, alice, changes[1].UserID)
}

func TestPresence_LateHeartbeatDoesNotRepeatOnline(t *testing.T) {
	f := newPresenceFixture(t)
	alice, bob := f.user("alice"), f.user("bob")
	f.direct(t, alice, bob)

	f.presence.Connect(f.ctx, alice, "s1")
	f.clock.Advance(25 * time.Second)
	f.presence.Heartbeat(f.ctx, alice, "s1")
	require.True(t, f.presence.IsOnline(alice))
	require.Len(t, f.changes(), 1)

	f.presence.Disconnect(f.ctx, alice, "s1")
	changes := f.changes()
	require.Len(t, changes, 2)
	require.False(t, changes[1].IsOnline)
}

func TestPresence_SnapshotForLimitsToCoParticipants(t *testing.T) {
	f := newPresenceFixture(t)
	alice, bob, stranger := f.user("alice"), f.user("bob"), f.user("stranger")
	f.direct(t, alice, bob)
	f.presence.Connect(f.ctx, bob, "s1")
	f.presence.Connect(f.ctx, stranger, "s2")

	got, err := f.presence.SnapshotFor(f.ctx, alice, []uuid.UUID{bob, stranger, alice})
	require.NoError(t, err)
	require.Equal(t, map[uuid.UUID]bool{bob: true, alice: false}, got)
}

func TestPresence_NoCoParticipantsNoAnnouncement(t *testing.T) {
	f := newPresenceFixture(t)
	loner := f.user("loner")

	f.presence.Connect(f.ctx, loner, "s1")
	require.True(t, f.presence.IsOnline(loner))
	require.Empty(t, f.changes())
}

func TestPresence_TimeoutIsTwoIntervals(t *testing.T) {
	p := NewPresenceService(database.NewMemoryStore(), nopBroadcaster{}, SystemClock{}, 30*time.Second, nil, zerolog.Nop())
	require.Equal(t, 30*time.Second, p.Interval())
	require.Equal(t, time.Minute, p.Timeout())
}
