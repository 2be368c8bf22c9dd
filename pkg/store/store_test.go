package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/recovery"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/session"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "tutor.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleSession() session.Session {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	return session.Session{
		ID:             "sess-1",
		LearnerID:      "learner-1",
		Topic:          "fractions",
		Status:         session.StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func sampleCheckpoint(ts time.Time) recovery.Checkpoint {
	return recovery.Checkpoint{
		SessionID: "sess-1",
		LearnerID: "learner-1",
		Topic:     "fractions",
		Progress: recovery.Progress{
			CurrentSubTopic:    "adding fractions",
			CompletedSubTopics: []string{"what is a fraction"},
			ItemsProcessed:     7,
			MathItems:          3,
		},
		Quality: recovery.ConnectionQuality{
			LastStableConnection: ts.Add(-time.Minute),
			ReconnectAttempts:    2,
			BufferedItems:        14,
		},
		Timestamp:        ts,
		ErrorCount:       1,
		RecoveryAttempts: 2,
	}
}

func TestSQLiteSessionRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sess := sampleSession()
	if err := db.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	got, ok, err := db.GetSession(ctx, sess.ID)
	if err != nil || !ok {
		t.Fatalf("GetSession: ok=%v err=%v", ok, err)
	}
	if got.LearnerID != sess.LearnerID || got.Topic != sess.Topic || got.Status != session.StatusActive {
		t.Fatalf("got %+v", got)
	}
	if !got.CreatedAt.Equal(sess.CreatedAt) {
		t.Fatalf("created at = %v, want %v", got.CreatedAt, sess.CreatedAt)
	}

	sess.Status = session.StatusEnded
	sess.TextOnly = true
	if err := db.PutSession(ctx, sess); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _, _ = db.GetSession(ctx, sess.ID)
	if got.Status != session.StatusEnded || !got.TextOnly {
		t.Fatalf("after update: %+v", got)
	}

	if _, ok, err := db.GetSession(ctx, "missing"); ok || err != nil {
		t.Fatalf("missing session: ok=%v err=%v", ok, err)
	}
	if err := db.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok, _ := db.GetSession(ctx, sess.ID); ok {
		t.Fatal("session survived delete")
	}
}

func TestSQLiteCheckpointRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ts := time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)
	cp := sampleCheckpoint(ts)
	if err := db.PutCheckpoint(ctx, cp); err != nil {
		t.Fatalf("PutCheckpoint: %v", err)
	}
	got, ok, err := db.GetCheckpoint(ctx, cp.SessionID)
	if err != nil || !ok {
		t.Fatalf("GetCheckpoint: ok=%v err=%v", ok, err)
	}
	if got.Progress.CurrentSubTopic != "adding fractions" || got.Progress.ItemsProcessed != 7 {
		t.Fatalf("progress = %+v", got.Progress)
	}
	if len(got.Progress.CompletedSubTopics) != 1 {
		t.Fatalf("completed = %v", got.Progress.CompletedSubTopics)
	}
	if got.Quality.ReconnectAttempts != 2 || got.Quality.BufferedItems != 14 {
		t.Fatalf("quality = %+v", got.Quality)
	}
	if !got.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, ts)
	}
}

func TestSQLiteCheckpointStaleWriteDropped(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ts := time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)
	fresh := sampleCheckpoint(ts)
	fresh.Progress.ItemsProcessed = 10
	if err := db.PutCheckpoint(ctx, fresh); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	stale := sampleCheckpoint(ts.Add(-time.Minute))
	stale.Progress.ItemsProcessed = 1
	if err := db.PutCheckpoint(ctx, stale); err != nil {
		t.Fatalf("put stale: %v", err)
	}
	got, _, _ := db.GetCheckpoint(ctx, "sess-1")
	if got.Progress.ItemsProcessed != 10 {
		t.Fatalf("stale write replaced fresh checkpoint: %+v", got.Progress)
	}

	newer := sampleCheckpoint(ts.Add(time.Minute))
	newer.Progress.ItemsProcessed = 20
	if err := db.PutCheckpoint(ctx, newer); err != nil {
		t.Fatalf("put newer: %v", err)
	}
	got, _, _ = db.GetCheckpoint(ctx, "sess-1")
	if got.Progress.ItemsProcessed != 20 {
		t.Fatalf("newer write did not replace: %+v", got.Progress)
	}

	if err := db.DeleteCheckpoint(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}
	if _, ok, _ := db.GetCheckpoint(ctx, "sess-1"); ok {
		t.Fatal("checkpoint survived delete")
	}
}

func TestMemoryCheckpointStaleWriteDropped(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ts := time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)
	fresh := sampleCheckpoint(ts)
	fresh.Progress.ItemsProcessed = 10
	if err := m.PutCheckpoint(ctx, fresh); err != nil {
		t.Fatalf("put fresh: %v", err)
	}
	stale := sampleCheckpoint(ts.Add(-time.Minute))
	stale.Progress.ItemsProcessed = 1
	if err := m.PutCheckpoint(ctx, stale); err != nil {
		t.Fatalf("put stale: %v", err)
	}
	got, ok, _ := m.GetCheckpoint(ctx, "sess-1")
	if !ok || got.Progress.ItemsProcessed != 10 {
		t.Fatalf("checkpoint = %+v, ok=%v", got, ok)
	}
}

func TestMemorySessionRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sess := sampleSession()
	if err := m.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	got, ok, _ := m.GetSession(ctx, sess.ID)
	if !ok || got.LearnerID != "learner-1" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
	if err := m.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok, _ := m.GetSession(ctx, sess.ID); ok {
		t.Fatal("session survived delete")
	}
}
