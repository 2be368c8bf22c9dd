package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/protocol"
)

// State is the connection position. Exactly one authoritative instance
// exists per process; all subsystems read it through Manager.State.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// EventKind tags events on the manager's channel.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventMessage      EventKind = "message"
	EventError        EventKind = "error"
)

// Event is one transport occurrence. Message is set for EventMessage,
// Err for EventError, Reason for EventDisconnected.
type Event struct {
	Kind    EventKind
	Reason  string
	Message *protocol.Message
	Err     error
	At      time.Time
}

// Config tunes the manager. Zero values take defaults in NewManager.
type Config struct {
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	HealthInterval    time.Duration
	HealthTimeout     time.Duration
	MaxMessageBytes   int64
	OutboundQueueSize int
	EventQueueSize    int
}

// DefaultConfig returns the stock transport settings.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      5 * time.Second,
		HealthInterval:    20 * time.Second,
		HealthTimeout:     45 * time.Second,
		MaxMessageBytes:   256 * 1024,
		OutboundQueueSize: 128,
		EventQueueSize:    256,
	}
}

// Conn is the subset of a websocket connection the manager drives.
// *websocket.Conn satisfies it; tests substitute fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	Close() error
}

// Dialer opens the underlying channel.
type Dialer interface {
	DialContext(ctx context.Context, target string) (Conn, error)
}

type wsDialer struct {
	handshakeTimeout time.Duration
}

func (d wsDialer) DialContext(ctx context.Context, target string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Manager owns the single live bidirectional channel. It reports
// connection loss on its event channel and never retries on its own;
// retry policy belongs to the recovery manager.
type Manager struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	links  sync.WaitGroup

	mu       sync.Mutex
	state    State
	target   string
	link     *link
	dialDone chan struct{}
}

// link is one dialed connection and its goroutines. A fresh link replaces
// the old one on every successful dial, so stale read loops can never
// mutate current state.
type link struct {
	conn     Conn
	ctx      context.Context
	cancel   context.CancelFunc
	outbound chan []byte
	once     sync.Once
}

// NewManager validates cfg and returns a disconnected Manager. dialer and
// logger may be nil; now may be nil.
func NewManager(cfg Config, dialer Dialer, logger *slog.Logger, now func() time.Time) (*Manager, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.HealthInterval < 0 || cfg.HealthTimeout < 0 {
		return nil, core.NewConfigurationError("transport health intervals must be >= 0")
	}
	if cfg.HealthInterval > 0 && cfg.HealthTimeout <= cfg.HealthInterval {
		return nil, core.NewConfigurationError("transport health timeout must exceed the probe interval")
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultConfig().MaxMessageBytes
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = DefaultConfig().OutboundQueueSize
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = DefaultConfig().EventQueueSize
	}
	if dialer == nil {
		dialer = wsDialer{handshakeTimeout: cfg.ConnectTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		logger: logger,
		now:    now,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, cfg.EventQueueSize),
		state:  StateDisconnected,
	}, nil
}

// Events is the manager's ordered event channel.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the channel is live.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Target returns the last target Connect was given.
func (m *Manager) Target() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Connect dials target, blocking until the channel is open, ctx is done,
// or the connect timeout elapses. On timeout the state is left
// disconnected and the error is a connection_timeout. Calling Connect
// while already connected is a no-op; calling it while another connect
// is in flight waits for that dial's outcome.
func (m *Manager) Connect(ctx context.Context, target string) error {
	return m.dial(ctx, target, StateConnecting)
}

// Reconnect re-dials the last target, surfacing the reconnecting state
// while the attempt is in flight. Used by the recovery manager only.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	target := m.target
	m.mu.Unlock()
	if target == "" {
		return core.NewNotConnected("no previous target to reconnect to")
	}
	return m.dial(ctx, target, StateReconnecting)
}

// dial claims the dialing role or waits for whoever holds it. Multiple
// sessions share one channel, so concurrent connects must converge on the
// in-flight dial's outcome rather than fail each other.
func (m *Manager) dial(ctx context.Context, target string, transient State) error {
	for {
		m.mu.Lock()
		if m.state == StateConnected {
			m.mu.Unlock()
			return nil
		}
		if m.state == StateConnecting || m.state == StateReconnecting {
			wait := m.dialDone
			m.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return core.NewConnectionTimeout(fmt.Sprintf("connect to %s timed out", target), ctx.Err())
				}
				return fmt.Errorf("connect to %s: %w", target, ctx.Err())
			}
		}
		select {
		case <-m.ctx.Done():
			m.mu.Unlock()
			return core.NewNotConnected("transport is closed")
		default:
		}
		m.state = transient
		m.target = target
		m.dialDone = make(chan struct{})
		m.mu.Unlock()
		break
	}
	defer func() {
		m.mu.Lock()
		close(m.dialDone)
		m.dialDone = nil
		m.mu.Unlock()
	}()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.dialer.DialContext(dialCtx, target)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		if isTimeout(err) || errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return core.NewConnectionTimeout(fmt.Sprintf("connect to %s timed out", target), err)
		}
		return fmt.Errorf("connect to %s: %w", target, err)
	}

	linkCtx, linkCancel := context.WithCancel(m.ctx)
	l := &link{
		conn:     conn,
		ctx:      linkCtx,
		cancel:   linkCancel,
		outbound: make(chan []byte, m.cfg.OutboundQueueSize),
	}

	m.mu.Lock()
	m.link = l
	m.state = StateConnected
	m.mu.Unlock()

	conn.SetReadLimit(m.cfg.MaxMessageBytes)
	if m.cfg.HealthInterval > 0 {
		_ = conn.SetReadDeadline(m.now().Add(m.cfg.HealthTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(m.now().Add(m.cfg.HealthTimeout))
		})
	}

	m.links.Add(2)
	go m.readLoop(l)
	go m.writeLoop(l)

	m.emit(Event{Kind: EventConnected, At: m.now()})
	m.logger.Info("transport connected", "target", target)
	return nil
}

// Send serializes msg and queues it for the writer. It requires a live
// channel. Marshal failures are reported on the event channel and the
// frame is dropped; the sender is never crashed.
func (m *Manager) Send(msg protocol.Message) error {
	m.mu.Lock()
	l := m.link
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || l == nil {
		return core.NewNotConnected("transport is not connected")
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		m.emit(Event{Kind: EventError, Err: fmt.Errorf("serialize outbound %s: %w", msg.Type, err), At: m.now()})
		return nil
	}

	select {
	case l.outbound <- data:
		return nil
	case <-l.ctx.Done():
		return core.NewNotConnected("transport closed while sending")
	}
}

// Disconnect closes the channel deliberately. The disconnected event is
// still emitted so consumers observe a single teardown path.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	l := m.link
	m.mu.Unlock()
	if l == nil {
		return nil
	}
	m.teardown(l, "client request")
	return nil
}

// Close releases the manager entirely. After Close the event channel is
// closed and the manager cannot be reused. The context is canceled first
// so in-flight emits resolve, then the link goroutines are drained; only
// after that is the event channel closed.
func (m *Manager) Close() error {
	m.cancel()
	err := m.Disconnect()
	m.links.Wait()
	close(m.events)
	return err
}

func (m *Manager) readLoop(l *link) {
	defer m.links.Done()
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			reason := closeReason(err)
			m.teardown(l, reason)
			return
		}
		msg, derr := protocol.Decode(data)
		if derr != nil {
			// Drop the frame: a malformed frame must not reach consumers.
			m.emit(Event{Kind: EventError, Err: core.NewParseError("inbound frame dropped", derr), At: m.now()})
			continue
		}
		m.emit(Event{Kind: EventMessage, Message: &msg, At: m.now()})
	}
}

func (m *Manager) writeLoop(l *link) {
	defer m.links.Done()

	var pingC <-chan time.Time
	if m.cfg.HealthInterval > 0 {
		ticker := time.NewTicker(m.cfg.HealthInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-pingC:
			deadline := m.now().Add(m.cfg.WriteTimeout)
			if err := l.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				// Probe write failure forces a close; the read loop then
				// drives the normal disconnected path.
				m.teardown(l, "health probe failed")
				return
			}
		case data := <-l.outbound:
			_ = l.conn.SetWriteDeadline(m.now().Add(m.cfg.WriteTimeout))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.teardown(l, "write failed: "+err.Error())
				return
			}
		}
	}
}

// teardown closes one link exactly once and emits the disconnected event.
// A link that has already been replaced never mutates manager state.
func (m *Manager) teardown(l *link, reason string) {
	l.once.Do(func() {
		l.cancel()
		_ = l.conn.Close()

		m.mu.Lock()
		current := m.link == l
		if current {
			m.link = nil
			m.state = StateDisconnected
		}
		m.mu.Unlock()

		if current {
			m.logger.Info("transport disconnected", "reason", reason)
			m.emit(Event{Kind: EventDisconnected, Reason: reason, At: m.now()})
		}
	})
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Sprintf("peer closed (%d)", ce.Code)
	}
	if isTimeout(err) {
		return "health check timeout"
	}
	return "read failed: " + err.Error()
}
