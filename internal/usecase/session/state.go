package session

import (
	"github.com/google/uuid"

	"campus-assistant/internal/domain"
)

// State is the lifecycle state of a Manager.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
	StateError     State = "error"
)

// View is a point-in-time copy of a Manager's state.
type View struct {
	State     State                        `json:"state"`
	Composing bool                         `json:"composing"`
	SessionID *uuid.UUID                   `json:"sessionId,omitempty"`
	Sessions  []domain.ConversationSession `json:"sessions"`
	Messages  []domain.Message             `json:"messages"`
	Error     string                       `json:"error,omitempty"`
	Retryable bool                         `json:"retryable,omitempty"`
}

// Observer receives chunks as the Manager applies them. It is called from
// the sending goroutine without locks held.
type Observer func(chunk domain.StreamChunk)

func (o Observer) emit(chunk domain.StreamChunk) {
	if o != nil {
		o(chunk)
	}
}

const titleLength = 50

// titleFor derives a session title from the first user message.
func titleFor(text string) string {
	runes := []rune(text)
	if len(runes) <= titleLength {
		return text
	}
	return string(runes[:titleLength]) + "..."
}
