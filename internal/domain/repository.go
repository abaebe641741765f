package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationSession is a persisted conversation thread.
type ConversationSession struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a single entry of a session.
type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionRepository is the authoritative session store.
type SessionRepository interface {
	// CreateSession inserts the session. ID and timestamps are assigned by the store.
	CreateSession(ctx context.Context, session *ConversationSession) error

	// GetSession returns nil, nil if not found.
	GetSession(ctx context.Context, id uuid.UUID) (*ConversationSession, error)

	// ListSessions returns the owner's sessions, most recently updated first.
	ListSessions(ctx context.Context, ownerID string) ([]ConversationSession, error)

	// TouchSession bumps updated_at.
	TouchSession(ctx context.Context, id uuid.UUID) error

	// DeleteSession removes the session and its messages.
	DeleteSession(ctx context.Context, id uuid.UUID) error

	// AppendMessage inserts the message. ID and CreatedAt are assigned by the store.
	AppendMessage(ctx context.Context, msg *Message) error

	// ListMessages returns the session's messages ordered by creation time.
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]Message, error)
}

// SessionSnapshot is the quick-restore copy of an identity's session state.
type SessionSnapshot struct {
	SessionID uuid.UUID             `json:"sessionId"`
	Sessions  []ConversationSession `json:"sessions"`
	Messages  []Message             `json:"messages"`
	SavedAt   time.Time             `json:"savedAt"`
}

// SessionMirror is the restartable local mirror. The store always wins over it.
type SessionMirror interface {
	Save(ctx context.Context, ownerID string, snapshot SessionSnapshot) error
	// Load returns nil, nil when nothing is mirrored for the owner.
	Load(ctx context.Context, ownerID string) (*SessionSnapshot, error)
	Purge(ctx context.Context, ownerID string) error
}

// TransactionManager defines the interface for handling database transactions.
type TransactionManager interface {
	// RunInTx executes the given function within a transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
