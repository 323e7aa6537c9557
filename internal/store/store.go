// ABOUTME: Store interfaces and data types for chat-backend persistence
// ABOUTME: Defines User, Conversation, Message and the UserStore/ConversationStore contracts

package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Uniqueness violations surfaced by every Store implementation.
var (
	ErrDuplicateEmail        = errors.New("email already exists")
	ErrDuplicateUsername     = errors.New("username already exists")
	ErrDuplicateConversation = errors.New("conversation already exists")
)

// Role is the account role of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// MessageType tags the payload kind of a message. Only text is produced today.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// User is an account that can send and receive messages.
// PasswordHash and RefreshToken never leave the server; use Public for responses.
type User struct {
	ID           string
	Name         string
	Username     string
	Email        string
	PasswordHash string
	Avatar       string
	Bio          string
	Role         Role
	RefreshToken *string // single active session
	IsOnline     bool
	LastSeen     *time.Time
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsDeleted reports whether the account has been soft-deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// PublicUser is the externally visible projection of a User.
type PublicUser struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Avatar    string     `json:"avatar"`
	Bio       string     `json:"bio"`
	Role      Role       `json:"role"`
	IsOnline  bool       `json:"isOnline"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Public strips credentials from the user.
func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:        u.ID,
		Name:      u.Name,
		Username:  u.Username,
		Email:     u.Email,
		Avatar:    u.Avatar,
		Bio:       u.Bio,
		Role:      u.Role,
		IsOnline:  u.IsOnline,
		LastSeen:  u.LastSeen,
		CreatedAt: u.CreatedAt,
	}
}

// Conversation groups messages between participants.
// Non-group conversations have exactly two participants and a unique PairKey.
type Conversation struct {
	ID            string
	Participants  []string
	IsGroup       bool
	GroupName     string
	GroupAdmin    string
	LastMessageID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PairKey returns the order-independent key for a one-to-one conversation.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is a single persisted chat message. Content and sender never change;
// only ReadBy and DeletedFor grow over time.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"messageType"`
	ReadBy         []string    `json:"readBy"`
	DeletedFor     []string    `json:"deletedFor"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// HiddenFor reports whether the message was soft-hidden by userID.
func (m *Message) HiddenFor(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a lowercase LIKE pattern matching query as a literal
// substring. Queries using it must declare ESCAPE '\'.
func containsPattern(query string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
}

// UserStore persists user accounts.
type UserStore interface {
	// CreateUser inserts a user. Returns ErrDuplicateEmail or ErrDuplicateUsername on conflict.
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// SetRefreshToken replaces the stored refresh token; nil clears it.
	SetRefreshToken(ctx context.Context, userID string, token *string) error

	// SetOnline records presence transitions. LastSeen is updated to at.
	SetOnline(ctx context.Context, userID string, online bool, at time.Time) error

	// SoftDeleteUser marks the account deleted and clears its refresh token.
	SoftDeleteUser(ctx context.Context, userID string, at time.Time) error

	// SearchUsers matches username or name case-insensitively, skipping
	// excludeID and deleted accounts.
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*User, error)
}

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	// CreateConversation inserts a conversation and its participants.
	// Returns ErrDuplicateConversation if a one-to-one conversation for the
	// same pair already exists.
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// FindDirectConversation returns the non-group conversation between two users.
	FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error)

	// ListConversations returns conversations containing userID, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)

	// SetLastMessage points the conversation at its newest message and bumps UpdatedAt.
	SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error

	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)

	// GetMessages returns the messages of a conversation in creation order.
	GetMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// MarkRead adds userID to ReadBy of every message in the conversation.
	MarkRead(ctx context.Context, conversationID, userID string) error

	// HideMessage adds userID to DeletedFor of the message.
	HideMessage(ctx context.Context, messageID, userID string) error
}

// Store is the full persistence surface used by the gateway.
type Store interface {
	UserStore
	ConversationStore

	Ping(ctx context.Context) error
	Close() error
}
