package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core/display"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core/transcript"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core/voice"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/protocol"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/recovery"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/transport"
)

// Transport is the slice of the live channel manager the orchestrator
// drives. *transport.Manager satisfies it.
type Transport interface {
	Connect(ctx context.Context, target string) error
	Disconnect() error
	Send(msg protocol.Message) error
	IsConnected() bool
	Events() <-chan transport.Event
}

// RecoveryNotifier receives connection signals for live sessions.
// *recovery.Manager satisfies it.
type RecoveryNotifier interface {
	ConnectionLost(sessionID, reason string)
	ConnectionRestored(sessionID string)
	StateCorrupted(sessionID string)
	SessionEnded(ctx context.Context, sessionID string)
}

// Config tunes the orchestrator.
type Config struct {
	// Target is the live channel endpoint shared by all sessions.
	Target string
	// Voice carries the provider connection settings.
	Voice voice.Config
	// Display configures each session's display buffer.
	Display display.Config
	// Now overrides the clock in tests.
	Now func() time.Time
}

type state struct {
	sess              Session
	buffer            *display.Buffer
	progress          recovery.Progress
	providerSessionID string
	lastStable        time.Time
	errorCount        int
}

// Orchestrator owns every session's lifecycle. All transitions pass
// through it; transport and provider failures route to the recovery
// manager instead of surfacing to callers.
type Orchestrator struct {
	cfg       Config
	transport Transport
	provider  voice.Provider
	store     Store
	proc      *transcript.Processor
	log       *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	sessions  map[string]*state
	byLearner map[string]string
	recovery  RecoveryNotifier

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewOrchestrator builds the orchestrator and starts its event pump.
func NewOrchestrator(cfg Config, tr Transport, provider voice.Provider, store Store, logger *slog.Logger) (*Orchestrator, error) {
	if strings.TrimSpace(cfg.Target) == "" {
		return nil, core.NewConfigurationError("session: target must be set")
	}
	if tr == nil || provider == nil || store == nil {
		return nil, core.NewConfigurationError("session: transport, provider and store must be set")
	}
	if cfg.Display == (display.Config{}) {
		cfg.Display = display.DefaultConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:       cfg,
		transport: tr,
		provider:  provider,
		store:     store,
		proc:      transcript.NewProcessor(transcript.DetectorConfig{}),
		log:       logger,
		now:       cfg.Now,
		sessions:  make(map[string]*state),
		byLearner: make(map[string]string),
		done:      make(chan struct{}),
	}
	o.wg.Add(1)
	go o.pump()
	return o, nil
}

// SetRecovery wires the recovery manager in. Must be called before the
// first session starts; signals are dropped while unset.
func (o *Orchestrator) SetRecovery(r RecoveryNotifier) {
	o.mu.Lock()
	o.recovery = r
	o.mu.Unlock()
}

// Close stops the event pump. Live sessions are not ended; callers end
// them first during shutdown.
func (o *Orchestrator) Close() {
	o.once.Do(func() { close(o.done) })
	o.wg.Wait()
}

// StartSession brings a new session up. The live channel and the voice
// provider initialize concurrently; the session reaches active only when
// both succeed, and a half-open start is torn down before returning.
func (o *Orchestrator) StartSession(ctx context.Context, learnerID, topic string) (Session, error) {
	learnerID = strings.TrimSpace(learnerID)
	topic = strings.TrimSpace(topic)
	if learnerID == "" {
		return Session{}, core.NewConfigurationError("session: learner id must be set")
	}
	if topic == "" {
		return Session{}, core.NewConfigurationError("session: topic must be set")
	}

	o.mu.Lock()
	if sid, ok := o.byLearner[learnerID]; ok {
		if st := o.sessions[sid]; st != nil && st.sess.Status != StatusEnded && st.sess.Status != StatusError {
			o.mu.Unlock()
			return Session{}, core.NewAlreadyActive(learnerID)
		}
	}
	buf, err := display.NewBuffer(o.cfg.Display, o.now)
	if err != nil {
		o.mu.Unlock()
		return Session{}, err
	}
	now := o.now()
	st := &state{
		sess: Session{
			ID:             uuid.NewString(),
			LearnerID:      learnerID,
			Topic:          topic,
			Status:         StatusInitializing,
			CreatedAt:      now,
			LastActivityAt: now,
		},
		buffer:     buf,
		lastStable: now,
	}
	st.progress.CurrentSubTopic = topic
	o.sessions[st.sess.ID] = st
	o.byLearner[learnerID] = st.sess.ID
	o.mu.Unlock()

	var (
		wg       sync.WaitGroup
		connErr  error
		provErr  error
		provSess string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		connErr = o.transport.Connect(ctx, o.cfg.Target)
	}()
	go func() {
		defer wg.Done()
		if provErr = o.provider.Initialize(ctx, o.cfg.Voice); provErr != nil {
			return
		}
		provSess, provErr = o.provider.StartSession(ctx, learnerID, topic)
	}()
	wg.Wait()

	if connErr != nil || provErr != nil {
		if provErr == nil && provSess != "" {
			if err := o.provider.EndSession(context.Background(), provSess); err != nil {
				o.log.Warn("teardown of provider session failed", "session_id", st.sess.ID, "error", err)
			}
		}
		o.mu.Lock()
		st.sess.Status = StatusError
		st.sess.LastActivityAt = o.now()
		delete(o.byLearner, learnerID)
		final := st.sess
		lastLive := !o.otherLiveLocked(st.sess.ID)
		o.mu.Unlock()
		if connErr == nil && lastLive {
			_ = o.transport.Disconnect()
		}
		o.persist(ctx, final)
		err := connErr
		if err == nil {
			err = provErr
		}
		return Session{}, fmt.Errorf("start session for learner %s: %w", learnerID, err)
	}

	o.mu.Lock()
	now = o.now()
	st.sess.Status = StatusActive
	st.sess.LastActivityAt = now
	st.providerSessionID = provSess
	st.lastStable = now
	active := st.sess
	o.mu.Unlock()

	o.persist(ctx, active)
	o.log.Info("session started",
		"session_id", active.ID,
		"learner_id", learnerID,
		"topic", topic)
	return active, nil
}

// Pause suspends an active session.
func (o *Orchestrator) Pause(ctx context.Context, id string) (Session, error) {
	return o.transition(ctx, id, StatusActive, StatusPaused, "pause")
}

// Resume reactivates a paused session.
func (o *Orchestrator) Resume(ctx context.Context, id string) (Session, error) {
	return o.transition(ctx, id, StatusPaused, StatusActive, "resume")
}

func (o *Orchestrator) transition(ctx context.Context, id string, from, to Status, op string) (Session, error) {
	o.mu.Lock()
	st, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return Session{}, fmt.Errorf("%s session %s: %w", op, id, ErrNotFound)
	}
	if st.sess.Status != from {
		cur := st.sess.Status
		o.mu.Unlock()
		return Session{}, fmt.Errorf("%s session %s in state %q: %w", op, id, cur, ErrInvalidTransition)
	}
	st.sess.Status = to
	st.sess.LastActivityAt = o.now()
	updated := st.sess
	o.mu.Unlock()
	o.persist(ctx, updated)
	return updated, nil
}

// EndSession tears a session down. Ending an already-ended or unknown
// session is a no-op.
func (o *Orchestrator) EndSession(ctx context.Context, id string) error {
	o.mu.Lock()
	st, ok := o.sessions[id]
	if !ok || st.sess.Status == StatusEnded {
		o.mu.Unlock()
		return nil
	}
	st.sess.Status = StatusEnded
	st.sess.LastActivityAt = o.now()
	provSess := st.providerSessionID
	st.providerSessionID = ""
	delete(o.byLearner, st.sess.LearnerID)
	final := st.sess
	lastLive := !o.otherLiveLocked(id)
	rec := o.recovery
	o.mu.Unlock()

	if provSess != "" {
		if err := o.provider.EndSession(ctx, provSess); err != nil {
			o.log.Warn("provider session close failed", "session_id", id, "error", err)
		}
	}
	if lastLive && o.transport.IsConnected() {
		_ = o.transport.Disconnect()
	}
	if rec != nil {
		rec.SessionEnded(ctx, id)
	}
	o.persist(ctx, final)
	o.log.Info("session ended", "session_id", id)
	return nil
}

// Get returns a copy of the session record.
func (o *Orchestrator) Get(id string) (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[id]
	if !ok {
		return Session{}, false
	}
	return st.sess, true
}

// Status reports just the session's lifecycle status.
func (o *Orchestrator) Status(id string) (Status, bool) {
	s, ok := o.Get(id)
	return s.Status, ok
}

// Transcript returns the session's display items in order.
func (o *Orchestrator) Transcript(id string) ([]display.Item, bool) {
	o.mu.Lock()
	st, ok := o.sessions[id]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	return st.buffer.Items(), true
}

// PublishText sends one text line over the live channel and runs it
// through the local display pipeline, so the speaker sees their own
// message even if the far side never echoes it.
func (o *Orchestrator) PublishText(sessionID, text, speaker string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return core.NewConfigurationError("session: text must be set")
	}
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("publish to session %s: %w", sessionID, ErrNotFound)
	}
	if st.sess.Status != StatusActive {
		cur := st.sess.Status
		o.mu.Unlock()
		return fmt.Errorf("publish to session %s in state %q: %w", sessionID, cur, ErrInvalidTransition)
	}
	o.mu.Unlock()

	err := o.transport.Send(protocol.Message{
		Type:        protocol.TypeTextMessage,
		SessionID:   sessionID,
		TimestampMS: o.now().UnixMilli(),
		Text:        &protocol.TextMessage{Text: text, Speaker: speaker},
	})
	if err != nil {
		return err
	}
	o.ingestText(sessionID, text, speaker)
	return nil
}

// AdvanceSubTopic records completion of the current sub-topic and moves
// the session onto the next one.
func (o *Orchestrator) AdvanceSubTopic(ctx context.Context, id, next string) error {
	next = strings.TrimSpace(next)
	if next == "" {
		return core.NewConfigurationError("session: sub-topic must be set")
	}
	o.mu.Lock()
	st, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("advance session %s: %w", id, ErrNotFound)
	}
	if cur := st.progress.CurrentSubTopic; cur != "" {
		st.progress.CompletedSubTopics = append(st.progress.CompletedSubTopics, cur)
	}
	st.progress.CurrentSubTopic = next
	st.sess.LastActivityAt = o.now()
	o.mu.Unlock()
	return nil
}

// Snapshot implements recovery.SnapshotSource.
func (o *Orchestrator) Snapshot(sessionID string) (recovery.Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[sessionID]
	if !ok || st.sess.Status == StatusEnded || st.sess.Status == StatusError {
		return recovery.Snapshot{}, false
	}
	return recovery.Snapshot{
		SessionID:            st.sess.ID,
		LearnerID:            st.sess.LearnerID,
		Topic:                st.sess.Topic,
		Progress:             cloneProgress(st.progress),
		ErrorCount:           st.errorCount,
		LastStableConnection: st.lastStable,
		BufferedItems:        st.buffer.Len(),
	}, true
}

// ActiveSessionIDs implements recovery.SnapshotSource.
func (o *Orchestrator) ActiveSessionIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.sessions))
	for id, st := range o.sessions {
		if st.sess.Status == StatusActive || st.sess.Status == StatusPaused {
			ids = append(ids, id)
		}
	}
	return ids
}

// Restore implements recovery.SessionControl. It reactivates the session
// after a successful reconnect, rehydrating progress from the checkpoint
// when instructed.
func (o *Orchestrator) Restore(ctx context.Context, ins recovery.RestoreInstruction) error {
	o.mu.Lock()
	st, ok := o.sessions[ins.SessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("restore session %s: %w", ins.SessionID, ErrNotFound)
	}
	if st.sess.Status == StatusEnded {
		o.mu.Unlock()
		return fmt.Errorf("restore session %s: %w", ins.SessionID, ErrInvalidTransition)
	}
	if ins.ResumeFromCheckpoint {
		st.progress = cloneProgress(ins.Checkpoint.Progress)
	}
	now := o.now()
	st.sess.Status = StatusActive
	// Voice is back: a session that fell back to text mode is full again.
	st.sess.TextOnly = false
	st.sess.VoiceRetryEligible = false
	st.sess.LastActivityAt = now
	st.lastStable = now
	updated := st.sess
	o.mu.Unlock()

	o.persist(ctx, updated)
	o.log.Info("session restored",
		"session_id", ins.SessionID,
		"from_checkpoint", ins.ResumeFromCheckpoint)
	return nil
}

// Fallback implements recovery.SessionControl. The session continues in
// text-only mode with its progress intact; the voice leg is released.
func (o *Orchestrator) Fallback(ctx context.Context, ins recovery.FallbackInstruction) error {
	o.mu.Lock()
	st, ok := o.sessions[ins.SessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("fallback session %s: %w", ins.SessionID, ErrNotFound)
	}
	if st.sess.Status == StatusEnded {
		o.mu.Unlock()
		return fmt.Errorf("fallback session %s: %w", ins.SessionID, ErrInvalidTransition)
	}
	if ins.PreserveProgress && st.progress.ItemsProcessed == 0 && ins.PreservedProgress.ItemsProcessed > 0 {
		st.progress = cloneProgress(ins.PreservedProgress)
	}
	st.sess.Status = StatusActive
	st.sess.TextOnly = true
	st.sess.VoiceRetryEligible = ins.EnableVoiceRetry
	st.sess.LastActivityAt = o.now()
	provSess := st.providerSessionID
	st.providerSessionID = ""
	updated := st.sess
	o.mu.Unlock()

	if provSess != "" {
		if err := o.provider.EndSession(ctx, provSess); err != nil {
			o.log.Warn("provider session close failed", "session_id", ins.SessionID, "error", err)
		}
	}
	o.persist(ctx, updated)
	o.log.Warn("session fell back to text mode",
		"session_id", ins.SessionID,
		"voice_retry_eligible", ins.EnableVoiceRetry)
	return nil
}

// Escalate implements recovery.SessionControl. The session is marked
// failed; a human facilitator takes over from here.
func (o *Orchestrator) Escalate(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("escalate session %s: %w", sessionID, ErrNotFound)
	}
	st.sess.Status = StatusError
	st.sess.LastActivityAt = o.now()
	provSess := st.providerSessionID
	st.providerSessionID = ""
	delete(o.byLearner, st.sess.LearnerID)
	final := st.sess
	o.mu.Unlock()

	if provSess != "" {
		_ = o.provider.EndSession(ctx, provSess)
	}
	o.persist(ctx, final)
	o.log.Error("session escalated", "session_id", sessionID)
	return nil
}

// pump is the single goroutine consuming transport events. Message
// processing, disconnect fan-out and reconnect fan-out all run here, so
// per-channel ordering is preserved end to end.
func (o *Orchestrator) pump() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case ev, ok := <-o.transport.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case transport.EventMessage:
				o.handleMessage(ev.Message)
			case transport.EventDisconnected:
				o.handleDisconnected(ev.Reason)
			case transport.EventConnected:
				o.handleConnected()
			case transport.EventError:
				o.log.Warn("transport error", "error", ev.Err)
			}
		}
	}
}

func (o *Orchestrator) handleMessage(msg *protocol.Message) {
	if msg == nil {
		return
	}
	switch msg.Type {
	case protocol.TypeTextMessage:
		o.ingestText(msg.SessionID, msg.Text.Text, msg.Text.Speaker)
	case protocol.TypeTranscript:
		o.ingestTranscript(msg.SessionID, msg.Transcript)
	case protocol.TypeControl:
		ctx := context.Background()
		switch msg.Control.Op {
		case protocol.OpEndSession:
			_ = o.EndSession(ctx, msg.SessionID)
		case protocol.OpPause:
			if _, err := o.Pause(ctx, msg.SessionID); err != nil {
				o.log.Warn("remote pause rejected", "session_id", msg.SessionID, "error", err)
			}
		case protocol.OpResume:
			if _, err := o.Resume(ctx, msg.SessionID); err != nil {
				o.log.Warn("remote resume rejected", "session_id", msg.SessionID, "error", err)
			}
		}
	}
}

// ingestText runs one transcription line through the math pipeline and
// appends the resulting spans to the session's display buffer.
func (o *Orchestrator) ingestText(sessionID, text, speaker string) {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok || st.sess.Status != StatusActive {
		o.mu.Unlock()
		return
	}
	buf := st.buffer
	o.mu.Unlock()

	processed := o.proc.ProcessTranscription(text, speaker)
	mathSpans := 0
	for _, span := range processed.Spans {
		kind := display.KindText
		if span.Kind == transcript.SpanMath {
			kind = display.KindMath
			mathSpans++
		}
		buf.Add(display.Item{
			Kind:     kind,
			Content:  span.Content,
			Rendered: span.Rendered,
			Speaker:  display.Speaker(speaker),
		})
	}

	o.mu.Lock()
	if st, ok := o.sessions[sessionID]; ok {
		st.sess.LastActivityAt = o.now()
		st.progress.ItemsProcessed += len(processed.Spans)
		st.progress.MathItems += mathSpans
	}
	o.mu.Unlock()
}

// ingestTranscript appends an already-processed transcript item without
// re-running detection.
func (o *Orchestrator) ingestTranscript(sessionID string, item *protocol.TranscriptItem) {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok || st.sess.Status != StatusActive {
		o.mu.Unlock()
		return
	}
	buf := st.buffer
	o.mu.Unlock()

	buf.Add(display.Item{
		Kind:     display.Kind(item.Kind),
		Content:  item.Content,
		Rendered: item.Rendered,
		Speaker:  display.Speaker(item.Speaker),
	})

	o.mu.Lock()
	if st, ok := o.sessions[sessionID]; ok {
		st.sess.LastActivityAt = o.now()
		st.progress.ItemsProcessed++
		if item.Kind == string(display.KindMath) {
			st.progress.MathItems++
		}
	}
	o.mu.Unlock()
}

func (o *Orchestrator) handleDisconnected(reason string) {
	o.mu.Lock()
	rec := o.recovery
	var lost []string
	for id, st := range o.sessions {
		if st.sess.Status == StatusActive || st.sess.Status == StatusPaused {
			st.errorCount++
			lost = append(lost, id)
		}
	}
	o.mu.Unlock()
	if rec == nil {
		return
	}
	for _, id := range lost {
		rec.ConnectionLost(id, reason)
	}
}

func (o *Orchestrator) handleConnected() {
	now := o.now()
	o.mu.Lock()
	rec := o.recovery
	var live []string
	for id, st := range o.sessions {
		if st.sess.Status == StatusActive || st.sess.Status == StatusPaused {
			st.lastStable = now
			live = append(live, id)
		}
	}
	o.mu.Unlock()
	if rec == nil {
		return
	}
	for _, id := range live {
		rec.ConnectionRestored(id)
	}
}

// otherLiveLocked reports whether any session besides id still needs the
// shared live channel. Callers hold o.mu.
func (o *Orchestrator) otherLiveLocked(id string) bool {
	for sid, st := range o.sessions {
		if sid == id {
			continue
		}
		switch st.sess.Status {
		case StatusActive, StatusPaused, StatusInitializing:
			return true
		}
	}
	return false
}

func (o *Orchestrator) persist(ctx context.Context, s Session) {
	if err := o.store.PutSession(ctx, s); err != nil {
		o.log.Warn("session persist failed", "session_id", s.ID, "error", err)
	}
}

func cloneProgress(p recovery.Progress) recovery.Progress {
	out := p
	out.CompletedSubTopics = append([]string(nil), p.CompletedSubTopics...)
	return out
}
