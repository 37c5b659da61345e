// ABOUTME: Store interface and data types for message-gateway persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation
// whose natural key (direct pair or group name) already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ConversationKind distinguishes two-party threads from named group threads
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Conversation represents a message thread between two users or a named group.
// For direct conversations PairKey is the natural key ("minID|maxID"); for
// group conversations GroupName is. Exactly one of the two is set.
type Conversation struct {
	ID                 string
	Kind               ConversationKind
	ParticipantA       string // direct only; sorted, A < B
	ParticipantB       string
	PairKey            string // direct only
	GroupName          string // group only
	LastMessagePreview string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Participants returns the participant ids of a direct conversation.
func (c *Conversation) Participants() []string {
	if c.Kind != KindDirect {
		return nil
	}
	return []string{c.ParticipantA, c.ParticipantB}
}

// HasParticipant reports whether the user is a party to a direct conversation.
// Group conversations are open to all callers by design.
func (c *Conversation) HasParticipant(userID string) bool {
	if c.Kind == KindGroup {
		return true
	}
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// DirectPairKey builds the natural key for a direct conversation from an
// unordered pair of user ids. Uses | as delimiter since it's not valid in ids.
func DirectPairKey(userA, userB string) string {
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

// SortPair returns the pair in canonical (ascending) order.
func SortPair(userA, userB string) (string, string) {
	if strings.Compare(userA, userB) > 0 {
		return userB, userA
	}
	return userA, userB
}

// Message is a single immutable entry in a conversation's log
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	CreatedAt      time.Time
}

// ConversationSummary is a conversation with per-user denormalized state,
// as returned by ListConversationsForUser.
type ConversationSummary struct {
	Conversation
	UnreadCount int
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetDirectConversation(ctx context.Context, pairKey string) (*Conversation, error)
	GetGroupConversation(ctx context.Context, groupName string) (*Conversation, error)
	TouchConversation(ctx context.Context, id, preview string, ts time.Time) error
	ListConversationsForUser(ctx context.Context, userID string) ([]*ConversationSummary, error)

	// Messages (append-only log)
	AppendMessage(ctx context.Context, conversationID, senderID, body string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// Read markers
	MarkRead(ctx context.Context, userID, conversationID string, ts time.Time) error

	// Close releases any resources held by the store
	Close() error
}

// NewDirectConversation builds an unsaved direct conversation for the given
// pair, with participants in canonical order.
func NewDirectConversation(id, userA, userB string, now time.Time) *Conversation {
	a, b := SortPair(userA, userB)
	return &Conversation{
		ID:           id,
		Kind:         KindDirect,
		ParticipantA: a,
		ParticipantB: b,
		PairKey:      DirectPairKey(a, b),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewGroupConversation builds an unsaved group conversation.
func NewGroupConversation(id, groupName string, now time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		Kind:      KindGroup,
		GroupName: groupName,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks structural invariants before a conversation is persisted.
func (c *Conversation) Validate() error {
	switch c.Kind {
	case KindDirect:
		if c.ParticipantA == "" || c.ParticipantB == "" {
			return fmt.Errorf("direct conversation requires two participants")
		}
		if c.ParticipantA == c.ParticipantB {
			return fmt.Errorf("direct conversation participants must differ")
		}
		if c.PairKey == "" {
			return fmt.Errorf("direct conversation requires pair key")
		}
	case KindGroup:
		if c.GroupName == "" {
			return fmt.Errorf("group conversation requires group name")
		}
	default:
		return fmt.Errorf("unknown conversation kind %q", c.Kind)
	}
	return nil
}
