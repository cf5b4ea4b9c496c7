package services

import (
	"context"
	"sync"
	"time"

	"github.com/anjiri1684/chat_core/database"
	"github.com/anjiri1684/chat_core/metrics"
	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PresenceService derives online status from session heartbeats. A user is
// online while at least one session has beaten within two intervals. Offline
// is announced once for every online announcement, when the last session is
// gone.
type PresenceService struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]map[string]time.Time
	announced map[uuid.UUID]bool

	store    database.Store
	hub      Broadcaster
	clock    Clock
	interval time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger

	onExpire func(userID uuid.UUID, sessionID string)
}

func NewPresenceService(store database.Store, hub Broadcaster, clock Clock, interval time.Duration, m *metrics.Metrics, log zerolog.Logger) *PresenceService {
	return &PresenceService{
		sessions:  map[uuid.UUID]map[string]time.Time{},
		announced: map[uuid.UUID]bool{},
		store:     store,
		hub:       hub,
		clock:     clock,
		interval:  interval,
		metrics:   m,
		log:       log,
	}
}

func (p *PresenceService) Interval() time.Duration { return p.interval }

func (p *PresenceService) Timeout() time.Duration { return 2 * p.interval }

// OnExpire registers a callback run for every session the sweep times out.
func (p *PresenceService) OnExpire(fn func(userID uuid.UUID, sessionID string)) {
	p.mu.Lock()
	p.onExpire = fn
	p.mu.Unlock()
}

// Connect registers a live session. The first session of a user announces
// them online.
func (p *PresenceService) Connect(ctx context.Context, userID uuid.UUID, sessionID string) {
	p.beat(ctx, userID, sessionID)
}

// Heartbeat refreshes a session. A session the sweep already dropped is
// registered again.
func (p *PresenceService) Heartbeat(ctx context.Context, userID uuid.UUID, sessionID string) {
	p.beat(ctx, userID, sessionID)
}

func (p *PresenceService) beat(ctx context.Context, userID uuid.UUID, sessionID string) {
	now := p.clock.Now()
	p.mu.Lock()
	set, ok := p.sessions[userID]
	if !ok {
		set = map[string]time.Time{}
		p.sessions[userID] = set
	}
	set[sessionID] = now
	cameOnline := !p.announced[userID]
	p.announced[userID] = true
	online := p.onlineCountLocked(now)
	p.mu.Unlock()

	p.metrics.SetOnlineUsers(online)
	if cameOnline {
		p.announce(ctx, userID, true, now)
	}
}

// Disconnect drops a session. Losing the last one announces the user offline.
func (p *PresenceService) Disconnect(ctx context.Context, userID uuid.UUID, sessionID string) {
	now := p.clock.Now()
	p.mu.Lock()
	wentOffline := false
	if set, ok := p.sessions[userID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(p.sessions, userID)
			wentOffline = p.dropAnnouncedLocked(userID)
		}
	}
	online := p.onlineCountLocked(now)
	p.mu.Unlock()

	p.metrics.SetOnlineUsers(online)
	if wentOffline {
		p.announce(ctx, userID, false, now)
	}
}

type expired struct {
	userID    uuid.UUID
	sessionID string
}

// Sweep drops every session that missed its heartbeat window and returns how
// many users went offline.
func (p *PresenceService) Sweep(ctx context.Context) int {
	now := p.clock.Now()
	cutoff := now.Add(-p.Timeout())

	p.mu.Lock()
	var (
		dropped []expired
		offline []uuid.UUID
	)
	for userID, set := range p.sessions {
		for sid, last := range set {
			if last.Before(cutoff) {
				delete(set, sid)
				dropped = append(dropped, expired{userID, sid})
			}
		}
		if len(set) == 0 {
			delete(p.sessions, userID)
			if p.dropAnnouncedLocked(userID) {
				offline = append(offline, userID)
			}
		}
	}
	online := p.onlineCountLocked(now)
	onExpire := p.onExpire
	p.mu.Unlock()

	p.metrics.SetOnlineUsers(online)
	if onExpire != nil {
		for _, e := range dropped {
			onExpire(e.userID, e.sessionID)
		}
	}
	for _, id := range offline {
		p.announce(ctx, id, false, now)
	}
	if len(dropped) > 0 {
		p.log.Debug().Int("sessions", len(dropped)).Int("users", len(offline)).Msg("presence sweep")
	}
	return len(offline)
}

func (p *PresenceService) dropAnnouncedLocked(userID uuid.UUID) bool {
	was := p.announced[userID]
	delete(p.announced, userID)
	return was
}

func (p *PresenceService) onlineLocked(userID uuid.UUID, now time.Time) bool {
	cutoff := now.Add(-p.Timeout())
	for _, last := range p.sessions[userID] {
		if !last.Before(cutoff) {
			return true
		}
	}
	return false
}

// onlineCountLocked counts users with a session inside the heartbeat window.
func (p *PresenceService) onlineCountLocked(now time.Time) int {
	n := 0
	for userID := range p.sessions {
		if p.onlineLocked(userID, now) {
			n++
		}
	}
	return n
}

func (p *PresenceService) IsOnline(userID uuid.UUID) bool {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onlineLocked(userID, now)
}

// Snapshot reports the current status of each requested user.
func (p *PresenceService) Snapshot(userIDs []uuid.UUID) map[uuid.UUID]bool {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		out[id] = p.onlineLocked(id, now)
	}
	return out
}

// SnapshotFor is Snapshot limited to users who share an active conversation
// with viewer. Other ids are left out of the result.
func (p *PresenceService) SnapshotFor(ctx context.Context, viewer uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	co, err := p.store.CoParticipantIDs(ctx, viewer)
	if err != nil {
		return nil, wrapStoreErr("load co-participants", err)
	}
	visible := make(map[uuid.UUID]bool, len(co)+1)
	visible[viewer] = true
	for _, id := range co {
		visible[id] = true
	}
	var allowed []uuid.UUID
	for _, id := range userIDs {
		if visible[id] {
			allowed = append(allowed, id)
		}
	}
	return p.Snapshot(allowed), nil
}

func (p *PresenceService) announce(ctx context.Context, userID uuid.UUID, online bool, at time.Time) {
	ids, err := p.store.CoParticipantIDs(ctx, userID)
	if err != nil {
		p.log.Error().Err(err).Str("user_id", userID.String()).Msg("presence: load co-participants")
		return
	}
	if len(ids) == 0 {
		return
	}
	p.hub.SendToUsers(ids, models.PresenceChange{UserID: userID, IsOnline: online, Timestamp: at})
}
