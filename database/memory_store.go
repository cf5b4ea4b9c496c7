package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anjiri1684/chat_core/models"
	"github.com/google/uuid"
)

type participantKey struct {
	conversationID uuid.UUID
	userID         uuid.UUID
}

type memoryState struct {
	users         map[uuid.UUID]models.User
	friendships   []models.Friendship
	conversations map[uuid.UUID]models.Conversation
	participants  map[participantKey]models.ConversationParticipant
	messages      map[uuid.UUID]models.Message
	reactions     map[uuid.UUID]models.MessageReaction
}

func newMemoryState() *memoryState {
	return &memoryState{
		users:         map[uuid.UUID]models.User{},
		conversations: map[uuid.UUID]models.Conversation{},
		participants:  map[participantKey]models.ConversationParticipant{},
		messages:      map[uuid.UUID]models.Message{},
		reactions:     map[uuid.UUID]models.MessageReaction{},
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.users {
		c.users[k] = v
	}
	c.friendships = append(c.friendships, s.friendships...)
	for k, v := range s.conversations {
		c.conversations[k] = v
	}
	for k, v := range s.participants {
		c.participants[k] = v
	}
	for k, v := range s.messages {
		c.messages[k] = v
	}
	for k, v := range s.reactions {
		c.reactions[k] = v
	}
	return c
}

// MemoryStore keeps everything in process. Transactions run against a copy
// that replaces the live state only when the callback succeeds.
type MemoryStore struct {
	mu   *sync.Mutex
	st   *memoryState
	inTx bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mu: &sync.Mutex{}, st: newMemoryState()}
}

func (m *MemoryStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &MemoryStore{mu: m.mu, st: m.st.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	*m.st = *tx.st
	return nil
}

// PutUser seeds a user row.
func (m *MemoryStore) PutUser(u models.User) {
	defer m.lock()()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.st.users[u.ID] = u
}

// PutFriendship seeds a friendship row.
func (m *MemoryStore) PutFriendship(f models.Friendship) {
	defer m.lock()()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	m.st.friendships = append(m.st.friendships, f)
}

// AreFriends lets the memory store act as the friendship gate.
func (m *MemoryStore) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	defer m.lock()()
	accepted := false
	for _, f := range m.st.friendships {
		if !(f.RequesterID == a && f.AddresseeID == b) && !(f.RequesterID == b && f.AddresseeID == a) {
			continue
		}
		if f.IsBlocked {
			return false, nil
		}
		accepted = accepted || f.Status == models.FriendshipAccepted
	}
	return accepted, nil
}

func (m *MemoryStore) FindMissingUsers(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	defer m.lock()()
	var missing []uuid.UUID
	for _, id := range ids {
		if _, ok := m.st.users[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (m *MemoryStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	defer m.lock()()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.DirectKey != nil {
		for _, existing := range m.st.conversations {
			if existing.DirectKey != nil && *existing.DirectKey == *c.DirectKey {
				return ErrDuplicate
			}
		}
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	stored := *c
	stored.Participants = nil
	m.st.conversations[c.ID] = stored
	return nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	defer m.lock()()
	c, ok := m.st.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) LockConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	return m.GetConversation(ctx, id)
}

func (m *MemoryStore) SaveConversation(ctx context.Context, c *models.Conversation) error {
	defer m.lock()()
	if _, ok := m.st.conversations[c.ID]; !ok {
		return ErrNotFound
	}
	c.UpdatedAt = time.Now()
	stored := *c
	stored.Participants = nil
	m.st.conversations[c.ID] = stored
	return nil
}

func (m *MemoryStore) FindDirectConversation(ctx context.Context, directKey string) (*models.Conversation, error) {
	defer m.lock()()
	for _, c := range m.st.conversations {
		if c.Kind == models.ConversationDirect && c.DirectKey != nil && *c.DirectKey == directKey {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) memberConversations(userID uuid.UUID, match func(models.Conversation) bool) []models.Conversation {
	var out []models.Conversation
	for key, p := range m.st.participants {
		if key.userID != userID || !p.IsActive {
			continue
		}
		c, ok := m.st.conversations[key.conversationID]
		if ok && match(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func page[T any](items []T, skip, take int) []T {
	if skip >= len(items) {
		return nil
	}
	items = items[skip:]
	if take >= 0 && take < len(items) {
		items = items[:take]
	}
	return items
}

func (m *MemoryStore) ListConversations(ctx context.Context, userID uuid.UUID, skip, take int) ([]models.Conversation, error) {
	defer m.lock()()
	all := m.memberConversations(userID, func(models.Conversation) bool { return true })
	return page(all, skip, take), nil
}

func (m *MemoryStore) SearchConversations(ctx context.Context, userID uuid.UUID, query string, skip, take int) ([]models.Conversation, error) {
	defer m.lock()()
	q := strings.ToLower(query)
	all := m.memberConversations(userID, func(c models.Conversation) bool {
		if c.Title != nil && strings.Contains(strings.ToLower(*c.Title), q) {
			return true
		}
		for key := range m.st.participants {
			if key.conversationID != c.ID || key.userID == userID {
				continue
			}
			if u, ok := m.st.users[key.userID]; ok && strings.Contains(strings.ToLower(u.FullName), q) {
				return true
			}
		}
		return false
	})
	return page(all, skip, take), nil
}

func (m *MemoryStore) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*models.ConversationParticipant, error) {
	defer m.lock()()
	p, ok := m.st.participants[participantKey{conversationID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) ListActiveParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.ConversationParticipant, error) {
	defer m.lock()()
	var out []models.ConversationParticipant
	for key, p := range m.st.participants {
		if key.conversationID == conversationID && p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *MemoryStore) SaveParticipant(ctx context.Context, p *models.ConversationParticipant) error {
	defer m.lock()()
	m.st.participants[participantKey{p.ConversationID, p.UserID}] = *p
	return nil
}

func (m *MemoryStore) ActiveConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	defer m.lock()()
	var ids []uuid.UUID
	for key, p := range m.st.participants {
		if key.userID == userID && p.IsActive {
			ids = append(ids, key.conversationID)
		}
	}
	return ids, nil
}

func (m *MemoryStore) CoParticipantIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	defer m.lock()()
	mine := map[uuid.UUID]bool{}
	for key, p := range m.st.participants {
		if key.userID == userID && p.IsActive {
			mine[key.conversationID] = true
		}
	}
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for key, p := range m.st.participants {
		if !p.IsActive || key.userID == userID || !mine[key.conversationID] || seen[key.userID] {
			continue
		}
		seen[key.userID] = true
		ids = append(ids, key.userID)
	}
	return ids, nil
}

func (m *MemoryStore) ClearLastReadMessage(ctx context.Context, conversationID uuid.UUID) error {
	defer m.lock()()
	for key, p := range m.st.participants {
		if key.conversationID == conversationID {
			p.LastReadMessageID = nil
			m.st.participants[key] = p
		}
	}
	return nil
}

func (m *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	defer m.lock()()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	for _, existing := range m.st.messages {
		if existing.ConversationID == msg.ConversationID && existing.Seq == msg.Seq {
			return ErrDuplicate
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.st.messages[msg.ID] = *msg
	return nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	defer m.lock()()
	msg, ok := m.st.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &msg, nil
}

func (m *MemoryStore) GetMessages(ctx context.Context, ids []uuid.UUID) ([]models.Message, error) {
	defer m.lock()()
	var out []models.Message
	for _, id := range ids {
		if msg, ok := m.st.messages[id]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	defer m.lock()()
	if _, ok := m.st.messages[msg.ID]; !ok {
		return ErrNotFound
	}
	m.st.messages[msg.ID] = *msg
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, conversationID uuid.UUID, skip, take int) ([]models.Message, error) {
	defer m.lock()()
	var out []models.Message
	for _, msg := range m.st.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return page(out, skip, take), nil
}

func (m *MemoryStore) DeleteConversationMessages(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	defer m.lock()()
	var n int64
	for id, msg := range m.st.messages {
		if msg.ConversationID != conversationID {
			continue
		}
		for rid, r := range m.st.reactions {
			if r.MessageID == id {
				delete(m.st.reactions, rid)
			}
		}
		delete(m.st.messages, id)
		n++
	}
	return n, nil
}

func (m *MemoryStore) CountUnread(ctx context.Context, conversationID, userID uuid.UUID, after *time.Time) (int64, error) {
	defer m.lock()()
	var n int64
	for _, msg := range m.st.messages {
		if msg.ConversationID != conversationID || msg.SenderID == userID || msg.IsDeleted {
			continue
		}
		if after != nil && !msg.CreatedAt.After(*after) {
			continue
		}
		n++
	}
	return n, nil
}

func (m *MemoryStore) FindReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (*models.MessageReaction, error) {
	defer m.lock()()
	for _, r := range m.st.reactions {
		if r.MessageID == messageID && r.UserID == userID && r.Emoji == emoji {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateReaction(ctx context.Context, r *models.MessageReaction) error {
	defer m.lock()()
	for _, existing := range m.st.reactions {
		if existing.MessageID == r.MessageID && existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			return ErrDuplicate
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.st.reactions[r.ID] = *r
	return nil
}

func (m *MemoryStore) DeleteReaction(ctx context.Context, id uuid.UUID) error {
	defer m.lock()()
	delete(m.st.reactions, id)
	return nil
}

func (m *MemoryStore) CountReactions(ctx context.Context, messageID uuid.UUID, emoji string) (int64, error) {
	defer m.lock()()
	var n int64
	for _, r := range m.st.reactions {
		if r.MessageID == messageID && r.Emoji == emoji {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListReactions(ctx context.Context, messageIDs []uuid.UUID) ([]models.MessageReaction, error) {
	defer m.lock()()
	want := make(map[uuid.UUID]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	var out []models.MessageReaction
	for _, r := range m.st.reactions {
		if want[r.MessageID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
