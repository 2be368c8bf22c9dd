package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultAckTimeout = 10 * time.Second

// LiveClient is a Provider over a websocket JSON frame protocol. One
// frame per JSON object: start_session, audio, end_session outbound;
// session_started acks inbound.
type LiveClient struct {
	ackTimeout time.Duration

	mu    sync.Mutex
	conn  *websocket.Conn
	state string
}

// NewLiveClient returns an uninitialized client.
func NewLiveClient() *LiveClient {
	return &LiveClient{
		ackTimeout: defaultAckTimeout,
		state:      "uninitialized",
	}
}

type liveFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	LearnerID string `json:"learner_id,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Language  string `json:"language,omitempty"`
	SampleRate int   `json:"sample_rate_hz,omitempty"`
	AudioB64  string `json:"audio_b64,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Initialize dials the provider endpoint.
func (c *LiveClient) Initialize(ctx context.Context, cfg Config) error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("voice endpoint is required")
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, cfg.Endpoint, header)
	if err != nil {
		c.setState("error")
		return fmt.Errorf("dial voice provider: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.state = "connected"
	c.mu.Unlock()
	return nil
}

// StartSession opens a provider-side session and waits for the ack frame
// carrying the provider session id.
func (c *LiveClient) StartSession(ctx context.Context, learnerID, topic string) (string, error) {
	conn, err := c.live()
	if err != nil {
		return "", err
	}

	if err := c.writeJSON(conn, liveFrame{Type: "start_session", LearnerID: learnerID, Topic: topic}); err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}

	deadline := time.Now().Add(c.ackTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	var ack liveFrame
	if err := conn.ReadJSON(&ack); err != nil {
		c.setState("error")
		return "", fmt.Errorf("await session ack: %w", err)
	}
	if ack.Type != "session_started" || ack.SessionID == "" {
		if ack.Error != "" {
			return "", fmt.Errorf("provider rejected session: %s", ack.Error)
		}
		return "", fmt.Errorf("unexpected provider frame %q", ack.Type)
	}
	return ack.SessionID, nil
}

// SendAudio forwards one audio chunk.
func (c *LiveClient) SendAudio(data []byte) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	return c.writeJSON(conn, liveFrame{
		Type:     "audio",
		AudioB64: base64.StdEncoding.EncodeToString(data),
	})
}

// EndSession closes the provider-side session.
func (c *LiveClient) EndSession(ctx context.Context, providerSessionID string) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	return c.writeJSON(conn, liveFrame{Type: "end_session", SessionID: providerSessionID})
}

// ConnectionState reports the provider link state.
func (c *LiveClient) ConnectionState() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears down the link.
func (c *LiveClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.state = "closed"
	return err
}

func (c *LiveClient) live() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.state != "connected" {
		return nil, fmt.Errorf("voice provider is not connected")
	}
	return c.conn, nil
}

func (c *LiveClient) writeJSON(conn *websocket.Conn, frame liveFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.state = "error"
		return err
	}
	return nil
}

func (c *LiveClient) setState(state string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
