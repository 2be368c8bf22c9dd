package store

import (
	"context"
	"sync"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/recovery"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/live/session"
)

// Memory keeps sessions and checkpoints in process memory. It backs
// tests and single-node deployments that can afford to lose state on
// restart.
type Memory struct {
	mu          sync.RWMutex
	sessions    map[string]session.Session
	checkpoints map[string]recovery.Checkpoint
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]session.Session),
		checkpoints: make(map[string]recovery.Checkpoint),
	}
}

// Close satisfies the store contract; there is nothing to release.
func (m *Memory) Close() error { return nil }

func (m *Memory) PutSession(_ context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (session.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok, nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// PutCheckpoint stores cp unless a newer checkpoint for the session
// already exists; stale writes are dropped silently.
func (m *Memory) PutCheckpoint(_ context.Context, cp recovery.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.checkpoints[cp.SessionID]; ok && cur.Timestamp.After(cp.Timestamp) {
		return nil
	}
	m.checkpoints[cp.SessionID] = cp
	return nil
}

func (m *Memory) GetCheckpoint(_ context.Context, sessionID string) (recovery.Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[sessionID]
	return cp, ok, nil
}

func (m *Memory) DeleteCheckpoint(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, sessionID)
	return nil
}
