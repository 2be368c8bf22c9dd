package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Message types carried on the live channel. Every frame is a JSON
// envelope: type + session id + timestamp + type-specific payload.
const (
	TypeAudioFrame    = "audio_frame"
	TypeTextMessage   = "text_message"
	TypeControl       = "control"
	TypeTranscript    = "transcript_item"
	TypeNotification  = "notification"
	TypeSessionStatus = "session_status"
)

// Control operations.
const (
	OpEndSession = "end_session"
	OpPause      = "pause"
	OpResume     = "resume"
)

// Notification types surfaced to the presentation layer.
const (
	NotifyConnectionUnstable = "connection_unstable"
	NotifySessionRecovered   = "session_recovered"
	NotifyFallbackToText     = "fallback_to_text"
	NotifyEscalationRequired = "escalation_required"
)

// Notification severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// DecodeError reports a malformed frame with a stable code.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// Envelope is the wire shape of every live message.
type Envelope struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"session_id"`
	TimestampMS int64           `json:"timestamp_ms"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// AudioFrame carries one chunk of learner audio, base64 in JSON.
type AudioFrame struct {
	DataB64 string `json:"data_b64"`
	Seq     int64  `json:"seq,omitempty"`
}

// Data decodes the base64 audio payload.
func (f AudioFrame) Data() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.DataB64)
}

// TextMessage carries spoken-or-typed transcript text from one side.
type TextMessage struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

// Control carries a session lifecycle operation.
type Control struct {
	Op string `json:"op"`
}

// TranscriptItem is a processed, renderable transcript unit.
type TranscriptItem struct {
	ItemID   string `json:"item_id"`
	Kind     string `json:"kind"`
	Content  string `json:"content"`
	Rendered string `json:"rendered,omitempty"`
	Speaker  string `json:"speaker"`
}

// Notification is a user-facing recovery signal.
type Notification struct {
	SessionID   string `json:"session_id"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	Severity    string `json:"severity"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// SessionStatus announces a lifecycle transition.
type SessionStatus struct {
	Status string `json:"status"`
}

// Message is a decoded envelope with its typed payload.
type Message struct {
	Type        string
	SessionID   string
	TimestampMS int64
	// Exactly one of the following is set, matching Type.
	Audio        *AudioFrame
	Text         *TextMessage
	Control      *Control
	Transcript   *TranscriptItem
	Notification *Notification
	Status       *SessionStatus
}

// Encode marshals m into wire bytes.
func Encode(m Message) ([]byte, error) {
	var payload any
	switch m.Type {
	case TypeAudioFrame:
		payload = m.Audio
	case TypeTextMessage:
		payload = m.Text
	case TypeControl:
		payload = m.Control
	case TypeTranscript:
		payload = m.Transcript
	case TypeNotification:
		payload = m.Notification
	case TypeSessionStatus:
		payload = m.Status
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", m.Type, err)
	}
	return json.Marshal(Envelope{
		Type:        m.Type,
		SessionID:   m.SessionID,
		TimestampMS: m.TimestampMS,
		Payload:     raw,
	})
}

// Decode strictly parses a wire frame. Unknown types and missing required
// fields are DecodeErrors so a single malformed frame can be dropped
// without corrupting downstream state.
func Decode(data []byte) (Message, error) {
	var env Envelope
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return Message{}, badFrame("invalid envelope: "+err.Error(), "")
	}
	if strings.TrimSpace(env.Type) == "" {
		return Message{}, badFrame("type is required", "type")
	}
	if strings.TrimSpace(env.SessionID) == "" {
		return Message{}, badFrame("session_id is required", "session_id")
	}

	msg := Message{Type: env.Type, SessionID: env.SessionID, TimestampMS: env.TimestampMS}
	switch env.Type {
	case TypeAudioFrame:
		var p AudioFrame
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Message{}, err
		}
		if strings.TrimSpace(p.DataB64) == "" {
			return Message{}, badFrame("audio data is required", "payload.data_b64")
		}
		if _, err := p.Data(); err != nil {
			return Message{}, badFrame("audio data is not valid base64", "payload.data_b64")
		}
		msg.Audio = &p
	case TypeTextMessage:
		var p TextMessage
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Message{}, err
		}
		if strings.TrimSpace(p.Text) == "" {
			return Message{}, badFrame("text is required", "payload.text")
		}
		msg.Text = &p
	case TypeControl:
		var p Control
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Message{}, err
		}
		switch p.Op {
		case OpEndSession, OpPause, OpResume:
		default:
			return Message{}, badFrame("unknown control op", "payload.op")
		}
		msg.Control = &p
	case TypeTranscript:
		var p TranscriptItem
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Message{}, err
		}
		msg.Transcript = &p
	case TypeNotification:
		var p Notification
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Message{}, err
		}
		msg.Notification = &p
	case TypeSessionStatus:
		var p SessionStatus
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return Message{}, err
		}
		msg.Status = &p
	default:
		return Message{}, badFrame("unknown message type", "type")
	}
	return msg, nil
}

func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return badFrame("payload is required", "payload")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badFrame("invalid payload: "+err.Error(), "payload")
	}
	return nil
}
