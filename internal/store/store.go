// ABOUTME: Store interface and data types for huddle-gateway persistence
// ABOUTME: Defines User, Conversation, Message structs and the Store interface

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

// ErrDuplicateConversation is returned when a private conversation for the
// same unordered pair of users already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateUser is returned when a username is already taken
var ErrDuplicateUser = errors.New("user already exists")

// ErrAlreadyMember is returned when adding a participant that is already present
var ErrAlreadyMember = errors.New("already a member")

// ConversationKind distinguishes one-to-one from multi-party conversations
type ConversationKind string

const (
	KindPrivate ConversationKind = "private"
	KindGroup   ConversationKind = "group"
)

// User is a registered participant. Reachability is not stored here; it
// lives in the in-memory presence registry.
type User struct {
	ID               string
	Username         string
	LastDisconnected *time.Time
	CreatedAt        time.Time
}

// Conversation is a private pair or a named group with a subject
type Conversation struct {
	ID           string
	Kind         ConversationKind
	Participants []string // user IDs, join order
	Admin        string   // group only
	Name         string   // group only
	Subject      string   // group only
	CreatedAt    time.Time
	LastUpdated  time.Time
}

// HasParticipant reports whether userID belongs to the conversation
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is an immutable entry in a conversation's log.
// Seq is assigned by the store and increases by one per append.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	SenderID       string
	SenderName     string // resolved from users on read, empty if unknown
	Text           string
	Timestamp      time.Time
}

// PairKey returns the order-independent key identifying a private conversation
// between two users.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// UserStore covers user records and their durable last-disconnected mark
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	EnsureUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	SetLastDisconnected(ctx context.Context, userID string, at time.Time) error
}

// ConversationStore covers conversation records and membership
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	FindPrivateConversation(ctx context.Context, a, b string) (*Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID string) error
	ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)
}

// MessageStore covers the append-only message log
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	ListMessagesSince(ctx context.Context, userID string, since time.Time) ([]*Message, error)
}

// Store is the full persistence surface used by the gateway
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}
