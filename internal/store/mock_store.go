// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping its uniqueness and ordering rules

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // keyed by user ID
	usernames     map[string]string        // username -> user ID
	conversations map[string]*Conversation // keyed by conversation ID
	pairs         map[string]string        // PairKey -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, append order
	seqs          map[string]int64         // last assigned seq per conversation
	pingErr       error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		usernames:     make(map[string]string),
		conversations: make(map[string]*Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string][]*Message),
		seqs:          make(map[string]int64),
	}
}

// Compile-time check that MockStore satisfies Store
var _ Store = (*MockStore)(nil)

func copyUser(u *User) *User {
	c := *u
	if u.LastDisconnected != nil {
		t := *u.LastDisconnected
		c.LastDisconnected = &t
	}
	return &c
}

func copyConversation(conv *Conversation) *Conversation {
	c := *conv
	c.Participants = append([]string(nil), conv.Participants...)
	return &c
}

// CreateUser stores a new user. Returns ErrDuplicateUser if the id or
// username is already taken.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if _, ok := m.users[user.ID]; ok {
		return ErrDuplicateUser
	}
	if _, ok := m.usernames[user.Username]; ok {
		return ErrDuplicateUser
	}

	m.users[user.ID] = copyUser(user)
	m.usernames[user.Username] = user.ID
	return nil
}

// EnsureUser stores the user unless its id already exists.
func (m *MockStore) EnsureUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; ok {
		return nil
	}
	if _, ok := m.usernames[user.Username]; ok {
		return ErrDuplicateUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	u := copyUser(user)
	u.LastDisconnected = nil
	m.users[u.ID] = u
	m.usernames[u.Username] = u.ID
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// GetUserByUsername retrieves a user by display name.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usernames[username]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(m.users[id]), nil
}

// SetLastDisconnected records when the user's connection was released.
func (m *MockStore) SetLastDisconnected(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	u.LastDisconnected = &t
	return nil
}

// CreateConversation stores a conversation. Returns ErrDuplicateConversation
// if a private conversation for the same pair already exists.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.LastUpdated.IsZero() {
		conv.LastUpdated = conv.CreatedAt
	}

	var key string
	if conv.Kind == KindPrivate {
		if len(conv.Participants) != 2 {
			return fmt.Errorf("private conversation needs exactly 2 participants, got %d", len(conv.Participants))
		}
		key = PairKey(conv.Participants[0], conv.Participants[1])
		if _, ok := m.pairs[key]; ok {
			return ErrDuplicateConversation
		}
	}
	if _, ok := m.conversations[conv.ID]; ok {
		return ErrDuplicateConversation
	}

	m.conversations[conv.ID] = copyConversation(conv)
	if key != "" {
		m.pairs[key] = conv.ID
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// FindPrivateConversation looks up the private conversation between a and b.
func (m *MockStore) FindPrivateConversation(ctx context.Context, a, b string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pairs[PairKey(a, b)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(m.conversations[id]), nil
}

// AddParticipant appends userID to the conversation's participants.
func (m *MockStore) AddParticipant(ctx context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if conv.HasParticipant(userID) {
		return ErrAlreadyMember
	}
	conv.Participants = append(conv.Participants, userID)
	return nil
}

// ListConversationsForUser returns the user's conversations, most recently
// updated first.
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Conversation
	for _, conv := range m.conversations {
		if conv.HasParticipant(userID) {
			result = append(result, copyConversation(conv))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastUpdated.Equal(result[j].LastUpdated) {
			return result[i].LastUpdated.After(result[j].LastUpdated)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// AppendMessage appends msg, assigning Seq and a timestamp strictly after the
// conversation's previous lastUpdated.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if !msg.Timestamp.After(conv.LastUpdated) {
		msg.Timestamp = conv.LastUpdated.Add(time.Nanosecond)
	}
	m.seqs[conv.ID]++
	msg.Seq = m.seqs[conv.ID]
	conv.LastUpdated = msg.Timestamp

	stored := *msg
	stored.SenderName = ""
	m.messages[conv.ID] = append(m.messages[conv.ID], &stored)
	return nil
}

// withSender returns a copy of msg with the sender's username resolved.
// Callers must hold the lock.
func (m *MockStore) withSender(msg *Message) *Message {
	c := *msg
	if u, ok := m.users[msg.SenderID]; ok {
		c.SenderName = u.Username
	}
	return &c
}

// ListMessages returns a conversation's messages in append order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Message
	for _, msg := range m.messages[conversationID] {
		result = append(result, m.withSender(msg))
	}
	return result, nil
}

// ListMessagesSince returns messages newer than since from the user's
// conversations, grouped by conversation ID and in append order.
func (m *MockStore) ListMessagesSince(ctx context.Context, userID string, since time.Time) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, conv := range m.conversations {
		if conv.HasParticipant(userID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var result []*Message
	for _, id := range ids {
		for _, msg := range m.messages[id] {
			if msg.Timestamp.After(since) {
				result = append(result, m.withSender(msg))
			}
		}
	}
	return result, nil
}

// SetPingErr makes Ping fail with err until cleared with nil.
func (m *MockStore) SetPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// Ping returns the error set by SetPingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
