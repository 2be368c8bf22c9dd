package core

import (
	"errors"
	"fmt"
)

// Error is the typed error surface of the session core. Every failure that
// crosses a component boundary is one of these; transport internals wrap
// their causes and classify them here.
type Error struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorKind categorizes errors.
type ErrorKind string

const (
	// KindConfiguration is fatal at construction: invalid setup.
	KindConfiguration ErrorKind = "configuration_error"
	// KindConnectionTimeout means the transport did not open in time.
	KindConnectionTimeout ErrorKind = "connection_timeout"
	// KindNotConnected means a send was attempted without a live channel.
	KindNotConnected ErrorKind = "not_connected"
	// KindParse marks a malformed inbound frame; dropped, non-fatal.
	KindParse ErrorKind = "parse_error"
	// KindRender marks a math rendering failure; degrades to fallback text.
	KindRender ErrorKind = "render_error"
	// KindAlreadyActive is the one-active-session-per-learner rule.
	KindAlreadyActive ErrorKind = "already_active"
	// KindStateCorrupted triggers restore-or-escalate.
	KindStateCorrupted ErrorKind = "state_corrupted"
	// KindRecoveryExhausted means retries are done; fallback or escalate.
	KindRecoveryExhausted ErrorKind = "recovery_exhausted"
)

// NewConfigurationError creates a construction-time configuration error.
func NewConfigurationError(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// NewConnectionTimeout creates a connect-deadline error.
func NewConnectionTimeout(message string, cause error) *Error {
	return &Error{Kind: KindConnectionTimeout, Message: message, Cause: cause}
}

// NewNotConnected creates a send-while-disconnected error.
func NewNotConnected(message string) *Error {
	return &Error{Kind: KindNotConnected, Message: message}
}

// NewParseError creates a malformed-frame error.
func NewParseError(message string, cause error) *Error {
	return &Error{Kind: KindParse, Message: message, Cause: cause}
}

// NewRenderError creates a math rendering error.
func NewRenderError(message string) *Error {
	return &Error{Kind: KindRender, Message: message}
}

// NewAlreadyActive creates a duplicate-session business-rule error.
func NewAlreadyActive(learnerID string) *Error {
	return &Error{
		Kind:    KindAlreadyActive,
		Message: fmt.Sprintf("learner %s already has an active session", learnerID),
	}
}

// NewStateCorrupted creates a corrupt-session-state error.
func NewStateCorrupted(sessionID, message string) *Error {
	return &Error{Kind: KindStateCorrupted, Message: message, SessionID: sessionID}
}

// NewRecoveryExhausted creates a retries-exhausted error.
func NewRecoveryExhausted(sessionID string, attempts int) *Error {
	return &Error{
		Kind:      KindRecoveryExhausted,
		Message:   fmt.Sprintf("automatic recovery stopped after %d attempts", attempts),
		SessionID: sessionID,
	}
}

// IsRetryable returns true if the recovery manager may retry after this error.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindConnectionTimeout, KindNotConnected:
		return true
	default:
		return false
	}
}

// KindOf extracts the ErrorKind from err, unwrapping as needed. The second
// return is false when err is not a core error.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a core error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
