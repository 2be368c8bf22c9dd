package display

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/core"
)

// Kind classifies a renderable unit.
type Kind string

const (
	KindText    Kind = "text"
	KindMath    Kind = "math"
	KindCode    Kind = "code"
	KindDiagram Kind = "diagram"
)

// Speaker identifies who produced an item.
type Speaker string

const (
	SpeakerStudent Speaker = "student"
	SpeakerTeacher Speaker = "teacher"
)

// Item is one renderable unit of session output. Rendered is present only
// for math items.
type Item struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	Rendered  string    `json:"rendered,omitempty"`
	Speaker   Speaker   `json:"speaker"`
	Timestamp time.Time `json:"timestamp"`
}

// Config tunes the buffer.
type Config struct {
	// Capacity bounds the buffer; the oldest items are evicted beyond it.
	Capacity int
	// DedupWindow suppresses re-adding an item whose (content, speaker)
	// matches an existing item within this window. Upstream transports
	// redeliver frames during reconnection.
	DedupWindow time.Duration
}

// DefaultConfig returns the stock buffer settings.
func DefaultConfig() Config {
	return Config{
		Capacity:    500,
		DedupWindow: 2 * time.Second,
	}
}

// Buffer is a bounded, ordered, deduplicated store of display items.
// Subscribers are notified synchronously on each successful add; a
// panicking subscriber never blocks the others or the add.
type Buffer struct {
	cfg Config
	now func() time.Time

	mu     sync.RWMutex
	items  []Item
	subs   map[int]func(Item)
	nextID int
}

// NewBuffer validates cfg and returns an empty Buffer. now may be nil.
func NewBuffer(cfg Config, now func() time.Time) (*Buffer, error) {
	if cfg.Capacity <= 0 {
		return nil, core.NewConfigurationError("display buffer capacity must be > 0")
	}
	if cfg.DedupWindow < 0 {
		return nil, core.NewConfigurationError("display buffer dedup window must be >= 0")
	}
	if now == nil {
		now = time.Now
	}
	return &Buffer{
		cfg:  cfg,
		now:  now,
		subs: make(map[int]func(Item)),
	}, nil
}

// Add appends item, stamping id/timestamp when absent. It returns false
// when the item was suppressed as a duplicate.
func (b *Buffer) Add(item Item) bool {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = b.now()
	}

	b.mu.Lock()
	if b.isDuplicateLocked(item) {
		b.mu.Unlock()
		return false
	}
	b.items = append(b.items, item)
	if over := len(b.items) - b.cfg.Capacity; over > 0 {
		b.items = append(b.items[:0:0], b.items[over:]...)
	}
	callbacks := make([]func(Item), 0, len(b.subs))
	for _, cb := range b.subs {
		callbacks = append(callbacks, cb)
	}
	b.mu.Unlock()

	for _, cb := range callbacks {
		notify(cb, item)
	}
	return true
}

func notify(cb func(Item), item Item) {
	defer func() { _ = recover() }()
	cb(item)
}

func (b *Buffer) isDuplicateLocked(item Item) bool {
	if b.cfg.DedupWindow == 0 {
		return false
	}
	cutoff := item.Timestamp.Add(-b.cfg.DedupWindow)
	for i := len(b.items) - 1; i >= 0; i-- {
		existing := b.items[i]
		if existing.Timestamp.Before(cutoff) {
			return false
		}
		if existing.Content == item.Content && existing.Speaker == item.Speaker {
			return true
		}
	}
	return false
}

// Items returns the buffered items in arrival order.
func (b *Buffer) Items() []Item {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Item, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the current item count.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Clear drops all buffered items. Subscriptions survive.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
}

// Subscribe registers cb for every subsequent successful Add and returns
// its unsubscribe function.
func (b *Buffer) Subscribe(cb func(Item)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = cb
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
