// Package store persists the client's local state between runs: the saved
// session credential, per-conversation read markers, and the roster of
// joined conversations to restore on startup.
package store

import (
	"context"
	"time"
)

// Session is the locally saved login.
type Session struct {
	Token    string
	UserID   string
	Username string
	SavedAt  time.Time
}

// ReadMarker records the newest message the user has read in a conversation.
type ReadMarker struct {
	ConversationID string
	MessageID      string
	ReadAt         time.Time
}

// Conversation is a joined conversation to re-subscribe to on startup.
type Conversation struct {
	ID       string
	Title    string
	JoinedAt time.Time
}

// SessionStore handles the saved login.
type SessionStore interface {
	// SaveSession replaces the saved login.
	SaveSession(ctx context.Context, s Session) error

	// LoadSession returns the saved login, or nil when none exists.
	LoadSession(ctx context.Context) (*Session, error)

	// ClearSession removes the saved login.
	ClearSession(ctx context.Context) error
}

// MarkerStore handles read markers.
type MarkerStore interface {
	// SetReadMarker records messageID as the newest read message.
	SetReadMarker(ctx context.Context, conversationID, messageID string) error

	// GetReadMarker returns the marker for a conversation, or nil when unset.
	GetReadMarker(ctx context.Context, conversationID string) (*ReadMarker, error)

	// ListReadMarkers returns all markers.
	ListReadMarkers(ctx context.Context) ([]*ReadMarker, error)
}

// ConversationStore handles the joined-conversation roster.
type ConversationStore interface {
	// UpsertConversation adds or refreshes a roster entry.
	UpsertConversation(ctx context.Context, c Conversation) error

	// RemoveConversation drops a roster entry.
	RemoveConversation(ctx context.Context, id string) error

	// ListConversations returns the roster ordered by join time.
	ListConversations(ctx context.Context) ([]*Conversation, error)
}

// Store aggregates all local persistence.
type Store interface {
	SessionStore
	MarkerStore
	ConversationStore

	// Close closes the underlying database connection.
	Close() error
}
