package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core/backoff"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core/breaker"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/protocol"
)

// Config tunes the recovery manager. Zero values take defaults in New.
type Config struct {
	// MaxRetries bounds reconnect attempts per outage before fallback.
	MaxRetries int
	// AttemptTimeout bounds a single reconnect attempt.
	AttemptTimeout time.Duration
	// FallbackTimeout bounds a whole outage; when exceeded the session
	// falls back even with attempts remaining.
	FallbackTimeout time.Duration
	// CheckpointInterval is the periodic checkpoint cadence. Zero
	// disables periodic checkpoints; loss-triggered ones still happen.
	CheckpointInterval time.Duration
	// NotifyDebounce suppresses repeat notifications of the same type
	// for the same session within this window.
	NotifyDebounce time.Duration
	// Backoff shapes the retry delay curve.
	Backoff backoff.Config
	// Breaker shapes the shared circuit breaker.
	Breaker breaker.Config
	// Now overrides the clock in tests.
	Now func() time.Time
	// Rand overrides backoff jitter in tests.
	Rand func() float64
}

// Metrics is a point-in-time view of recovery activity.
type Metrics struct {
	ReconnectAttempts       int64
	SuccessfulRecoveries    int64
	BreakerActivations      int64
	Fallbacks               int64
	Escalations             int64
	NotificationsSent       int64
	CheckpointWrites        int64
	CheckpointWriteFailures int64
}

type signalKind int

const (
	sigLost signalKind = iota
	sigRestored
	sigCorrupted
	sigRetryDue
	sigCheckpoint
	sigStop
)

type signal struct {
	kind   signalKind
	reason string
}

// actor serializes all recovery work for one session. Its fields are
// touched only from its own goroutine.
type actor struct {
	sessionID string
	signals   chan signal

	lost     bool
	lostAt   time.Time
	attempt  int
	retry    *time.Timer
	lastCPAt time.Time
}

// Manager drives reconnection, checkpointing and degradation for live
// sessions. One actor goroutine per session keeps recovery steps for a
// session strictly ordered while sessions recover independently.
type Manager struct {
	cfg     Config
	store   CheckpointStore
	source  SnapshotSource
	control SessionControl
	reconn  Reconnector
	brk     *breaker.Breaker
	policy  *backoff.Policy
	log     *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	actors     map[string]*actor
	memo       map[string]Checkpoint
	lastNotify map[string]time.Time
	metrics    Metrics

	notifyCh chan protocol.Notification
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// New builds a recovery manager. source and control are typically the
// session orchestrator; reconn is the transport manager.
func New(cfg Config, store CheckpointStore, source SnapshotSource, control SessionControl, reconn Reconnector, logger *slog.Logger) (*Manager, error) {
	if store == nil || source == nil || control == nil || reconn == nil {
		return nil, core.NewConfigurationError("recovery: store, source, control and reconnector must be set")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = 2 * time.Minute
	}
	if cfg.NotifyDebounce <= 0 {
		cfg.NotifyDebounce = 5 * time.Second
	}
	if cfg.Backoff == (backoff.Config{}) {
		cfg.Backoff = backoff.DefaultConfig()
	}
	if cfg.Breaker == (breaker.Config{}) {
		cfg.Breaker = breaker.DefaultConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	brk, err := breaker.New(cfg.Breaker, cfg.Now)
	if err != nil {
		return nil, err
	}
	policy, err := backoff.New(cfg.Backoff, cfg.Rand)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:        cfg,
		store:      store,
		source:     source,
		control:    control,
		reconn:     reconn,
		brk:        brk,
		policy:     policy,
		log:        logger,
		now:        cfg.Now,
		actors:     make(map[string]*actor),
		memo:       make(map[string]Checkpoint),
		lastNotify: make(map[string]time.Time),
		notifyCh:   make(chan protocol.Notification, 64),
		done:       make(chan struct{}),
	}
	if cfg.CheckpointInterval > 0 {
		m.wg.Add(1)
		go m.runCheckpointLoop()
	}
	return m, nil
}

// runCheckpointLoop checkpoints every active session on the configured
// cadence, spawning actors for sessions that have never signaled. The
// actors do the writes so checkpoint work stays serialized per session.
func (m *Manager) runCheckpointLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			for _, id := range m.source.ActiveSessionIDs() {
				m.send(id, signal{kind: sigCheckpoint})
			}
		}
	}
}

// Notifications is the stream of user-facing recovery events. Slow
// consumers lose notifications rather than blocking recovery.
func (m *Manager) Notifications() <-chan protocol.Notification {
	return m.notifyCh
}

// Metrics returns a snapshot of recovery counters.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	out := m.metrics
	m.mu.Unlock()
	out.BreakerActivations = m.brk.Activations()
	return out
}

// BreakerState exposes the shared breaker state for health reporting.
func (m *Manager) BreakerState() breaker.State {
	return m.brk.State()
}

// Close stops all actors. Pending retries are canceled.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
}

// ConnectionLost signals that the session's live channel dropped.
func (m *Manager) ConnectionLost(sessionID, reason string) {
	m.send(sessionID, signal{kind: sigLost, reason: reason})
}

// ConnectionRestored signals that the live channel came back through a
// path the manager did not drive. It is a no-op for sessions not
// currently lost.
func (m *Manager) ConnectionRestored(sessionID string) {
	m.send(sessionID, signal{kind: sigRestored})
}

// StateCorrupted signals that the session's in-process state can no
// longer be trusted. The manager restores from the latest checkpoint,
// or escalates immediately when none exists.
func (m *Manager) StateCorrupted(sessionID string) {
	m.send(sessionID, signal{kind: sigCorrupted})
}

// SessionEnded stops the session's actor and discards its checkpoint.
func (m *Manager) SessionEnded(ctx context.Context, sessionID string) {
	m.mu.Lock()
	a := m.actors[sessionID]
	delete(m.actors, sessionID)
	delete(m.memo, sessionID)
	m.mu.Unlock()
	if a != nil {
		select {
		case a.signals <- signal{kind: sigStop}:
		case <-m.done:
		}
	}
	if err := m.store.DeleteCheckpoint(ctx, sessionID); err != nil {
		m.log.Warn("checkpoint delete failed", "session_id", sessionID, "error", err)
	}
}

// Checkpoint requests an immediate checkpoint, outside the periodic
// cadence. The session's actor performs the write.
func (m *Manager) Checkpoint(sessionID string) {
	m.send(sessionID, signal{kind: sigCheckpoint})
}

func (m *Manager) send(sessionID string, sig signal) {
	a := m.ensureActor(sessionID)
	select {
	case a.signals <- sig:
	case <-m.done:
	}
}

func (m *Manager) ensureActor(sessionID string) *actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.actors[sessionID]; ok {
		return a
	}
	a := &actor{
		sessionID: sessionID,
		signals:   make(chan signal, 16),
	}
	m.actors[sessionID] = a
	m.wg.Add(1)
	go m.runActor(a)
	return a
}

func (m *Manager) runActor(a *actor) {
	defer m.wg.Done()
	defer a.cancelRetry()

	for {
		select {
		case <-m.done:
			return
		case sig := <-a.signals:
			switch sig.kind {
			case sigStop:
				return
			case sigLost:
				m.handleLost(a, sig.reason)
			case sigRestored:
				m.handleRestored(a)
			case sigCorrupted:
				m.handleCorrupted(a)
			case sigCheckpoint:
				m.writeCheckpoint(a)
			case sigRetryDue:
				m.attemptReconnect(a)
			}
		}
	}
}

// handleLost records the outage, checkpoints the pre-loss state and
// schedules the first reconnect. A repeat loss signal during an outage
// replaces any pending retry rather than stacking a second one.
func (m *Manager) handleLost(a *actor, reason string) {
	a.cancelRetry()
	if !a.lost {
		a.lost = true
		a.lostAt = m.now()
		a.attempt = 0
		m.writeCheckpoint(a)
	}
	m.notify(a.sessionID, protocol.NotifyConnectionUnstable, protocol.SeverityWarning,
		"connection lost; attempting to reconnect")
	m.log.Warn("connection lost", "session_id", a.sessionID, "reason", reason)
	m.scheduleRetry(a)
}

// handleRestored finishes an outage that healed without this actor's own
// reconnect attempt succeeding. Restoring an already-live session is a
// no-op.
func (m *Manager) handleRestored(a *actor) {
	if !a.lost {
		return
	}
	a.cancelRetry()
	m.finishRecovery(a)
}

// handleCorrupted rebuilds the session from its latest checkpoint. With
// no checkpoint there is nothing safe to rebuild from, so the session
// escalates immediately rather than retrying against corrupt state.
func (m *Manager) handleCorrupted(a *actor) {
	a.cancelRetry()
	cause := core.NewStateCorrupted(a.sessionID, "session state corrupted")
	cp, found := m.loadCheckpoint(a.sessionID)
	if !found {
		m.log.Error("state corrupted with no checkpoint", "session_id", a.sessionID, "error", cause)
		a.lost = false
		a.attempt = 0
		m.escalate(a, cause)
		return
	}

	m.log.Warn("state corrupted, restoring from checkpoint", "session_id", a.sessionID, "error", cause)
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AttemptTimeout)
	defer cancel()
	err := m.control.Restore(ctx, RestoreInstruction{
		SessionID:            a.sessionID,
		ResumeFromCheckpoint: true,
		Checkpoint:           cp,
	})
	if err != nil {
		m.log.Error("restore after corruption failed", "session_id", a.sessionID, "error", err)
		a.lost = false
		a.attempt = 0
		m.fallback(a, cp, cause)
		return
	}
	a.lost = false
	a.attempt = 0
	m.notify(a.sessionID, protocol.NotifySessionRecovered, protocol.SeverityInfo,
		"session state restored from checkpoint")
	m.log.Info("session restored after corruption", "session_id", a.sessionID)
}

// scheduleRetry arms the retry timer for the next attempt. A spent retry
// budget, an expired outage deadline or a breaker refusing further
// attempts all degrade the session instead.
func (m *Manager) scheduleRetry(a *actor) {
	if !a.lost {
		return
	}
	if a.attempt >= m.cfg.MaxRetries || m.now().Sub(a.lostAt) > m.cfg.FallbackTimeout {
		m.exhaust(a)
		return
	}
	if !m.brk.Allow() {
		m.exhaust(a)
		return
	}
	delay := m.policy.NextDelay(a.attempt)
	a.armRetry(m, delay)
}

// attemptReconnect runs one gated reconnect attempt.
func (m *Manager) attemptReconnect(a *actor) {
	if !a.lost {
		return
	}
	if !m.brk.Allow() {
		m.exhaust(a)
		return
	}
	a.attempt++
	m.mu.Lock()
	m.metrics.ReconnectAttempts++
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AttemptTimeout)
	err := m.reconn.Reconnect(ctx)
	cancel()
	if err != nil {
		m.brk.RecordFailure()
		m.log.Warn("reconnect attempt failed",
			"session_id", a.sessionID,
			"attempt", a.attempt,
			"error", err)
		m.scheduleRetry(a)
		return
	}
	m.brk.RecordSuccess()
	m.finishRecovery(a)
}

// finishRecovery restores the session from its latest checkpoint and
// closes out the outage. A failed restore degrades the session instead
// of retrying indefinitely.
func (m *Manager) finishRecovery(a *actor) {
	cp, found := m.loadCheckpoint(a.sessionID)
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AttemptTimeout)
	defer cancel()
	err := m.control.Restore(ctx, RestoreInstruction{
		SessionID:            a.sessionID,
		ResumeFromCheckpoint: found,
		Checkpoint:           cp,
	})
	if err != nil {
		m.log.Error("session restore failed", "session_id", a.sessionID, "error", err)
		a.lost = false
		a.attempt = 0
		if found {
			m.fallback(a, cp, err)
			return
		}
		m.escalate(a, err)
		return
	}
	attempts := a.attempt
	a.lost = false
	a.attempt = 0
	m.mu.Lock()
	m.metrics.SuccessfulRecoveries++
	m.mu.Unlock()
	m.notify(a.sessionID, protocol.NotifySessionRecovered, protocol.SeverityInfo,
		"connection restored; session resumed")
	m.log.Info("session recovered", "session_id", a.sessionID, "attempts", attempts)
}

// exhaust degrades the session once the retry budget is spent: fall back
// to text when a checkpoint preserves progress, escalate when nothing
// remains to fall back onto.
func (m *Manager) exhaust(a *actor) {
	a.cancelRetry()
	cause := core.NewRecoveryExhausted(a.sessionID, a.attempt)
	a.lost = false
	a.attempt = 0

	cp, found := m.loadCheckpoint(a.sessionID)
	if found {
		m.fallback(a, cp, cause)
		return
	}
	m.escalate(a, cause)
}

// fallback switches the session to text-only mode, carrying the
// checkpointed progress forward.
func (m *Manager) fallback(a *actor, cp Checkpoint, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AttemptTimeout)
	defer cancel()
	err := m.control.Fallback(ctx, FallbackInstruction{
		SessionID:         a.sessionID,
		PreserveProgress:  true,
		EnableVoiceRetry:  true,
		PreservedProgress: cp.Progress,
	})
	if err != nil {
		m.log.Error("fallback failed", "session_id", a.sessionID, "error", err)
	} else {
		m.mu.Lock()
		m.metrics.Fallbacks++
		m.mu.Unlock()
	}
	m.notify(a.sessionID, protocol.NotifyFallbackToText, protocol.SeverityWarning,
		"voice connection could not be restored; continuing in text mode")
	m.log.Warn("session fell back to text", "session_id", a.sessionID, "error", cause)
}

// escalate hands the session to a human; automatic recovery is over.
func (m *Manager) escalate(a *actor, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AttemptTimeout)
	defer cancel()
	if err := m.control.Escalate(ctx, a.sessionID); err != nil {
		m.log.Error("escalation failed", "session_id", a.sessionID, "error", err)
	} else {
		m.mu.Lock()
		m.metrics.Escalations++
		m.mu.Unlock()
	}
	m.notify(a.sessionID, protocol.NotifyEscalationRequired, protocol.SeverityError,
		"session could not be recovered; a facilitator has been alerted")
	m.log.Error("session escalated", "session_id", a.sessionID, "error", cause)
}

// writeCheckpoint snapshots the session and persists it. Store failures
// degrade to the in-memory copy so recovery still has something to
// restore from.
func (m *Manager) writeCheckpoint(a *actor) {
	snap, ok := m.source.Snapshot(a.sessionID)
	if !ok {
		return
	}
	now := m.now()
	if !a.lastCPAt.IsZero() && !now.After(a.lastCPAt) {
		return
	}
	cp := Checkpoint{
		SessionID: snap.SessionID,
		LearnerID: snap.LearnerID,
		Topic:     snap.Topic,
		Progress:  snap.Progress,
		Quality: ConnectionQuality{
			LastStableConnection: snap.LastStableConnection,
			ReconnectAttempts:    a.attempt,
			BufferedItems:        snap.BufferedItems,
		},
		Timestamp:        now,
		ErrorCount:       snap.ErrorCount,
		RecoveryAttempts: a.attempt,
	}
	a.lastCPAt = now

	m.mu.Lock()
	m.memo[a.sessionID] = cp
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AttemptTimeout)
	defer cancel()
	if err := m.store.PutCheckpoint(ctx, cp); err != nil {
		m.mu.Lock()
		m.metrics.CheckpointWriteFailures++
		m.mu.Unlock()
		m.log.Warn("checkpoint persist failed, keeping in-memory copy",
			"session_id", a.sessionID,
			"error", err)
		return
	}
	m.mu.Lock()
	m.metrics.CheckpointWrites++
	m.mu.Unlock()
}

func (m *Manager) loadCheckpoint(sessionID string) (Checkpoint, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AttemptTimeout)
	defer cancel()
	cp, found, err := m.store.GetCheckpoint(ctx, sessionID)
	if err == nil && found {
		return cp, true
	}
	if err != nil {
		m.log.Warn("checkpoint read failed, trying in-memory copy",
			"session_id", sessionID,
			"error", err)
	}
	m.mu.Lock()
	cp, found = m.memo[sessionID]
	m.mu.Unlock()
	return cp, found
}

// notify emits a debounced user-facing notification. The channel never
// blocks recovery; overflow drops the notification.
func (m *Manager) notify(sessionID, typ, severity, message string) {
	now := m.now()
	key := sessionID + "|" + typ
	m.mu.Lock()
	if last, ok := m.lastNotify[key]; ok && now.Sub(last) < m.cfg.NotifyDebounce {
		m.mu.Unlock()
		return
	}
	m.lastNotify[key] = now
	m.metrics.NotificationsSent++
	m.mu.Unlock()

	n := protocol.Notification{
		SessionID:   sessionID,
		Type:        typ,
		Message:     message,
		Severity:    severity,
		TimestampMS: now.UnixMilli(),
	}
	select {
	case m.notifyCh <- n:
	default:
		m.log.Warn("notification dropped, channel full", "session_id", sessionID, "type", typ)
	}
}

// armRetry replaces any pending retry with one due after delay. The timer
// only queues a signal; the actor goroutine does the work.
func (a *actor) armRetry(m *Manager, delay time.Duration) {
	a.cancelRetry()
	signals := a.signals
	a.retry = time.AfterFunc(delay, func() {
		select {
		case signals <- signal{kind: sigRetryDue}:
		case <-m.done:
		}
	})
}

func (a *actor) cancelRetry() {
	if a.retry != nil {
		a.retry.Stop()
		a.retry = nil
	}
}
