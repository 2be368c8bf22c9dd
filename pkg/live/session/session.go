package session

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for lifecycle operations.
var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// Status is the session lifecycle position.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusPaused       Status = "paused"
	StatusEnded        Status = "ended"
	StatusError        Status = "error"
)

// Session is one learner's continuous interaction instance. The
// orchestrator owns it exclusively; everyone else reads copies.
type Session struct {
	ID             string    `json:"id"`
	LearnerID      string    `json:"learner_id"`
	Topic          string    `json:"topic"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// TextOnly is set when recovery falls the session back to text mode.
	TextOnly bool `json:"text_only,omitempty"`
	// VoiceRetryEligible marks a fallen-back session that may re-attempt
	// voice later.
	VoiceRetryEligible bool `json:"voice_retry_eligible,omitempty"`
}

// Store persists session records. Last-write-wins per id is the only
// guarantee the core needs.
type Store interface {
	PutSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, bool, error)
	DeleteSession(ctx context.Context, id string) error
}
