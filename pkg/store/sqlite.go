package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/recovery"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/session"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite persists sessions and checkpoints in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and runs
// pending migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The driver serializes writes anyway; one connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	goose.SetLogger(goose.NopLogger())
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) PutSession(ctx context.Context, sess session.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, learner_id, topic, status, created_at, last_activity_at, text_only, voice_retry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			last_activity_at = excluded.last_activity_at,
			text_only = excluded.text_only,
			voice_retry = excluded.voice_retry`,
		sess.ID, sess.LearnerID, sess.Topic, string(sess.Status),
		sess.CreatedAt.UnixNano(), sess.LastActivityAt.UnixNano(),
		boolInt(sess.TextOnly), boolInt(sess.VoiceRetryEligible))
	if err != nil {
		return fmt.Errorf("put session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (session.Session, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, learner_id, topic, status, created_at, last_activity_at, text_only, voice_retry
		FROM sessions WHERE id = ?`, id)
	var (
		sess                 session.Session
		status               string
		created, lastActive  int64
		textOnly, voiceRetry int
	)
	err := row.Scan(&sess.ID, &sess.LearnerID, &sess.Topic, &status,
		&created, &lastActive, &textOnly, &voiceRetry)
	if err == sql.ErrNoRows {
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, fmt.Errorf("get session %s: %w", id, err)
	}
	sess.Status = session.Status(status)
	sess.CreatedAt = time.Unix(0, created)
	sess.LastActivityAt = time.Unix(0, lastActive)
	sess.TextOnly = textOnly != 0
	sess.VoiceRetryEligible = voiceRetry != 0
	return sess, true, nil
}

func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// PutCheckpoint upserts cp. A write carrying an older timestamp than the
// stored row is dropped, keeping checkpoints monotonic per session.
func (s *SQLite) PutCheckpoint(ctx context.Context, cp recovery.Checkpoint) error {
	progress, err := json.Marshal(cp.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress for %s: %w", cp.SessionID, err)
	}
	quality, err := json.Marshal(cp.Quality)
	if err != nil {
		return fmt.Errorf("marshal quality for %s: %w", cp.SessionID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, learner_id, topic, progress, quality, timestamp, error_count, recovery_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			progress = excluded.progress,
			quality = excluded.quality,
			timestamp = excluded.timestamp,
			error_count = excluded.error_count,
			recovery_attempts = excluded.recovery_attempts
		WHERE excluded.timestamp >= checkpoints.timestamp`,
		cp.SessionID, cp.LearnerID, cp.Topic, string(progress), string(quality),
		cp.Timestamp.UnixNano(), cp.ErrorCount, cp.RecoveryAttempts)
	if err != nil {
		return fmt.Errorf("put checkpoint %s: %w", cp.SessionID, err)
	}
	return nil
}

func (s *SQLite) GetCheckpoint(ctx context.Context, sessionID string) (recovery.Checkpoint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, learner_id, topic, progress, quality, timestamp, error_count, recovery_attempts
		FROM checkpoints WHERE session_id = ?`, sessionID)
	var (
		cp                recovery.Checkpoint
		progress, quality string
		ts                int64
	)
	err := row.Scan(&cp.SessionID, &cp.LearnerID, &cp.Topic, &progress, &quality,
		&ts, &cp.ErrorCount, &cp.RecoveryAttempts)
	if err == sql.ErrNoRows {
		return recovery.Checkpoint{}, false, nil
	}
	if err != nil {
		return recovery.Checkpoint{}, false, fmt.Errorf("get checkpoint %s: %w", sessionID, err)
	}
	if err := json.Unmarshal([]byte(progress), &cp.Progress); err != nil {
		return recovery.Checkpoint{}, false, fmt.Errorf("decode progress for %s: %w", sessionID, err)
	}
	if err := json.Unmarshal([]byte(quality), &cp.Quality); err != nil {
		return recovery.Checkpoint{}, false, fmt.Errorf("decode quality for %s: %w", sessionID, err)
	}
	cp.Timestamp = time.Unix(0, ts)
	return cp, true, nil
}

func (s *SQLite) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", sessionID, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
