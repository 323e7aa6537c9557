// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping the same uniqueness rules

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // keyed by user ID
	conversations map[string]*Conversation // keyed by conversation ID
	pairIndex     map[string]string        // PairKey -> conversation ID
	messages      map[string]*Message      // keyed by message ID
	byConv        map[string][]string      // conversation ID -> message IDs in insert order

	// Err, when set, is returned by every write. Used to simulate persistence failures.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		conversations: make(map[string]*Conversation),
		pairIndex:     make(map[string]string),
		messages:      make(map[string]*Message),
		byConv:        make(map[string][]string),
	}
}

func copyUser(u *User) *User {
	c := *u
	if u.RefreshToken != nil {
		t := *u.RefreshToken
		c.RefreshToken = &t
	}
	return &c
}

func copyConversation(conv *Conversation) *Conversation {
	c := *conv
	c.Participants = append([]string(nil), conv.Participants...)
	if conv.LastMessageID != nil {
		id := *conv.LastMessageID
		c.LastMessageID = &id
	}
	return &c
}

func copyMessage(m *Message) *Message {
	c := *m
	c.ReadBy = append([]string{}, m.ReadBy...)
	c.DeletedFor = append([]string{}, m.DeletedFor...)
	return &c
}

// CreateUser stores a new user, enforcing unique email and username.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return ErrDuplicateEmail
		}
		if existing.Username == user.Username {
			return ErrDuplicateUsername
		}
	}

	u := copyUser(user)
	if u.Role == "" {
		u.Role = RoleUser
	}
	m.users[u.ID] = u
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

func (m *MockStore) findUser(match func(*User) bool) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if match(u) {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

// GetUserByEmail retrieves a user by email.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(email)
	return m.findUser(func(u *User) bool { return u.Email == email })
}

// GetUserByUsername retrieves a user by username.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	username = strings.ToLower(username)
	return m.findUser(func(u *User) bool { return u.Username == username })
}

func (m *MockStore) updateUser(id string, update func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	update(u)
	return nil
}

// SetRefreshToken replaces the stored refresh token.
func (m *MockStore) SetRefreshToken(ctx context.Context, userID string, token *string) error {
	return m.updateUser(userID, func(u *User) {
		if token == nil {
			u.RefreshToken = nil
			return
		}
		t := *token
		u.RefreshToken = &t
		u.UpdatedAt = time.Now()
	})
}

// SetOnline updates presence fields.
func (m *MockStore) SetOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	return m.updateUser(userID, func(u *User) {
		u.IsOnline = online
		u.LastSeen = &at
	})
}

// SoftDeleteUser marks the user deleted and clears the refresh token.
func (m *MockStore) SoftDeleteUser(ctx context.Context, userID string, at time.Time) error {
	return m.updateUser(userID, func(u *User) {
		u.DeletedAt = &at
		u.RefreshToken = nil
		u.IsOnline = false
		u.UpdatedAt = at
	})
}

// SearchUsers matches username or name case-insensitively.
func (m *MockStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	q := strings.ToLower(query)

	var result []*User
	for _, u := range m.users {
		if u.ID == excludeID || u.DeletedAt != nil {
			continue
		}
		if strings.Contains(u.Username, q) || strings.Contains(strings.ToLower(u.Name), q) {
			result = append(result, copyUser(u))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CreateConversation stores a conversation, enforcing one conversation per pair.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, exists := m.conversations[conv.ID]; exists {
		return ErrDuplicateConversation
	}

	var key string
	if !conv.IsGroup && len(conv.Participants) == 2 {
		key = PairKey(conv.Participants[0], conv.Participants[1])
		if _, exists := m.pairIndex[key]; exists {
			return ErrDuplicateConversation
		}
	}

	c := copyConversation(conv)
	m.conversations[c.ID] = c
	if key != "" {
		m.pairIndex[key] = c.ID
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// FindDirectConversation retrieves the one-to-one conversation of a pair.
func (m *MockStore) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pairIndex[PairKey(userA, userB)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(m.conversations[id]), nil
}

// ListConversations returns a user's conversations, most recently updated first.
func (m *MockStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Conversation
	for _, c := range m.conversations {
		if c.HasParticipant(userID) {
			result = append(result, copyConversation(c))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// SetLastMessage updates the conversation's last message pointer.
func (m *MockStore) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	id := messageID
	c.LastMessageID = &id
	c.UpdatedAt = at
	return nil
}

// SaveMessage stores a message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}

	c := copyMessage(msg)
	if c.Type == "" {
		c.Type = MessageTypeText
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	m.messages[c.ID] = c
	m.byConv[c.ConversationID] = append(m.byConv[c.ConversationID], c.ID)
	return nil
}

// GetMessage retrieves a single message.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// GetMessages returns a conversation's messages in creation order.
func (m *MockStore) GetMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Message{}
	for _, id := range m.byConv[conversationID] {
		result = append(result, copyMessage(m.messages[id]))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func addUnique(set []string, id string) []string {
	for _, existing := range set {
		if existing == id {
			return set
		}
	}
	return append(set, id)
}

// MarkRead adds userID to ReadBy of every message in the conversation.
func (m *MockStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	for _, id := range m.byConv[conversationID] {
		msg := m.messages[id]
		msg.ReadBy = addUnique(msg.ReadBy, userID)
	}
	return nil
}

// HideMessage adds userID to DeletedFor of the message.
func (m *MockStore) HideMessage(ctx context.Context, messageID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.DeletedFor = addUnique(msg.DeletedFor, userID)
	return nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
