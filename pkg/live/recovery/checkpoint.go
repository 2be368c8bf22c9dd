package recovery

import (
	"context"
	"time"
)

// Progress captures how far a session has advanced through its topic.
type Progress struct {
	CurrentSubTopic    string   `json:"current_sub_topic"`
	CompletedSubTopics []string `json:"completed_sub_topics"`
	ItemsProcessed     int      `json:"items_processed"`
	MathItems          int      `json:"math_items"`
}

// ConnectionQuality is the transport health view recorded alongside a
// checkpoint.
type ConnectionQuality struct {
	LastStableConnection time.Time `json:"last_stable_connection"`
	ReconnectAttempts    int       `json:"reconnect_attempts"`
	BufferedItems        int       `json:"buffered_items"`
}

// Checkpoint is a restorable snapshot of session state. Timestamps are
// monotonically increasing per session; a stale write never replaces a
// newer checkpoint.
type Checkpoint struct {
	SessionID        string            `json:"session_id"`
	LearnerID        string            `json:"learner_id"`
	Topic            string            `json:"topic"`
	Progress         Progress          `json:"progress"`
	Quality          ConnectionQuality `json:"quality"`
	Timestamp        time.Time         `json:"timestamp"`
	ErrorCount       int               `json:"error_count"`
	RecoveryAttempts int               `json:"recovery_attempts"`
}

// CheckpointStore persists checkpoints keyed by session id.
type CheckpointStore interface {
	PutCheckpoint(ctx context.Context, cp Checkpoint) error
	GetCheckpoint(ctx context.Context, sessionID string) (Checkpoint, bool, error)
	DeleteCheckpoint(ctx context.Context, sessionID string) error
}

// Snapshot is the live view of a session the manager checkpoints from.
type Snapshot struct {
	SessionID            string
	LearnerID            string
	Topic                string
	Progress             Progress
	ErrorCount           int
	LastStableConnection time.Time
	BufferedItems        int
}

// SnapshotSource exposes live session state for checkpointing. The
// session orchestrator implements it.
type SnapshotSource interface {
	Snapshot(sessionID string) (Snapshot, bool)
	ActiveSessionIDs() []string
}

// RestoreInstruction tells the orchestrator to resume a session after a
// successful reconnect.
type RestoreInstruction struct {
	SessionID            string
	ResumeFromCheckpoint bool
	Checkpoint           Checkpoint
}

// FallbackInstruction degrades a session to text-only interaction while
// preserving its progress.
type FallbackInstruction struct {
	SessionID         string
	PreserveProgress  bool
	EnableVoiceRetry  bool
	PreservedProgress Progress
}

// SessionControl is the slice of the orchestrator the manager drives.
type SessionControl interface {
	Restore(ctx context.Context, ins RestoreInstruction) error
	Fallback(ctx context.Context, ins FallbackInstruction) error
	// Escalate marks a session unrecoverable; the manager calls it when
	// retries are exhausted and no checkpoint exists to fall back onto.
	Escalate(ctx context.Context, sessionID string) error
}

// Reconnector re-establishes the live transport channel.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}
