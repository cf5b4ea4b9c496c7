package websocket

import (
	"encoding/json"
	"sync"

	"github.com/anjiri1684/chat_core/metrics"
	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Hub tracks live sessions and the conversation channels they joined.
// Sending only enqueues; a session whose queue is full is closed.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[uuid.UUID]map[string]*Session
	channels map[uuid.UUID]map[string]*Session
	joined   map[string]map[uuid.UUID]struct{}

	buffer  int
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewHub(buffer int, m *metrics.Metrics, log zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		sessions: map[string]*Session{},
		byUser:   map[uuid.UUID]map[string]*Session{},
		channels: map[uuid.UUID]map[string]*Session{},
		joined:   map[string]map[uuid.UUID]struct{}{},
		buffer:   buffer,
		metrics:  m,
		log:      log,
	}
}

// Register creates a session for an authenticated connection and starts its
// writer.
func (h *Hub) Register(conn Conn, identity models.Identity) *Session {
	s := newSession(uuid.NewString(), identity, conn, h.buffer, h.log)

	h.mu.Lock()
	h.sessions[s.ID] = s
	set, ok := h.byUser[identity.UserID]
	if !ok {
		set = map[string]*Session{}
		h.byUser[identity.UserID] = set
	}
	set[s.ID] = s
	h.joined[s.ID] = map[uuid.UUID]struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()

	go s.writePump()
	h.metrics.SetActiveSessions(n)
	s.log.Info().Msg("session registered")
	return s
}

// Unregister removes the session from every channel and closes it.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		s.Close()
		return
	}
	delete(h.sessions, s.ID)
	if set, ok := h.byUser[s.Identity.UserID]; ok {
		delete(set, s.ID)
		if len(set) == 0 {
			delete(h.byUser, s.Identity.UserID)
		}
	}
	for convID := range h.joined[s.ID] {
		h.removeFromChannel(convID, s.ID)
	}
	delete(h.joined, s.ID)
	n := len(h.sessions)
	h.mu.Unlock()

	s.Close()
	h.metrics.SetActiveSessions(n)
	s.log.Info().Msg("session unregistered")
}

func (h *Hub) removeFromChannel(convID uuid.UUID, sessionID string) {
	if ch, ok := h.channels[convID]; ok {
		delete(ch, sessionID)
		if len(ch) == 0 {
			delete(h.channels, convID)
		}
	}
}

// Join subscribes the session to a conversation channel.
func (h *Hub) Join(s *Session, conversationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined, ok := h.joined[s.ID]
	if !ok {
		return
	}
	ch, ok := h.channels[conversationID]
	if !ok {
		ch = map[string]*Session{}
		h.channels[conversationID] = ch
	}
	ch[s.ID] = s
	joined[conversationID] = struct{}{}
}

// Leave unsubscribes the session from a conversation channel.
func (h *Hub) Leave(s *Session, conversationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromChannel(conversationID, s.ID)
	delete(h.joined[s.ID], conversationID)
}

// DetachUser drops every session of userID from the channel.
func (h *Hub) DetachUser(conversationID, userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.byUser[userID] {
		h.removeFromChannel(conversationID, id)
		delete(h.joined[id], conversationID)
	}
}

func (h *Hub) Broadcast(conversationID uuid.UUID, e models.Event) {
	h.BroadcastExcept(conversationID, uuid.Nil, e)
}

// BroadcastExcept fans e out to the channel, skipping sessions of
// exceptUserID.
func (h *Hub) BroadcastExcept(conversationID, exceptUserID uuid.UUID, e models.Event) {
	frame, err := encodeEvent(e)
	if err != nil {
		h.log.Error().Err(err).Str("event", e.EventName()).Msg("encode event")
		return
	}
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.channels[conversationID]))
	for _, s := range h.channels[conversationID] {
		if s.Identity.UserID != exceptUserID {
			targets = append(targets, s)
		}
	}
	// per-session frame order follows call order
	h.deliver(targets, frame)
	h.mu.RUnlock()
}

// SendToUsers pushes e to every session of the given users regardless of
// channel membership.
func (h *Hub) SendToUsers(userIDs []uuid.UUID, e models.Event) {
	frame, err := encodeEvent(e)
	if err != nil {
		h.log.Error().Err(err).Str("event", e.EventName()).Msg("encode event")
		return
	}
	h.mu.RLock()
	var targets []*Session
	for _, id := range userIDs {
		for _, s := range h.byUser[id] {
			targets = append(targets, s)
		}
	}
	h.deliver(targets, frame)
	h.mu.RUnlock()
}

// SendEvent pushes e to one session.
func (h *Hub) SendEvent(s *Session, e models.Event) {
	frame, err := encodeEvent(e)
	if err != nil {
		h.log.Error().Err(err).Str("event", e.EventName()).Msg("encode event")
		return
	}
	h.deliver([]*Session{s}, frame)
}

// SendFrame pushes an arbitrary JSON frame to one session.
func (h *Hub) SendFrame(s *Session, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("encode frame")
		return
	}
	h.deliver([]*Session{s}, frame)
}

func (h *Hub) deliver(targets []*Session, frame []byte) {
	for _, s := range targets {
		if s.enqueue(frame) {
			continue
		}
		select {
		case <-s.done:
			continue
		default:
		}
		h.metrics.FanoutDropped()
		s.log.Warn().Msg("send queue full, closing slow session")
		s.Close()
	}
}

// CloseSession closes a session by id; its reader then unregisters it.
func (h *Hub) CloseSession(userID uuid.UUID, sessionID string) {
	h.mu.RLock()
	s := h.byUser[userID][sessionID]
	h.mu.RUnlock()
	if s != nil {
		s.log.Info().Msg("heartbeat timed out")
		s.Close()
	}
}

func (h *Hub) sessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// subscribers returns the user ids with at least one session on the channel.
func (h *Hub) subscribers(conversationID uuid.UUID) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, s := range h.channels[conversationID] {
		if !seen[s.Identity.UserID] {
			seen[s.Identity.UserID] = true
			out = append(out, s.Identity.UserID)
		}
	}
	return out
}
