package display

import (
	"testing"
	"time"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestBuffer_OrderAndDedup(t *testing.T) {
	clock, advance := testClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	b, err := NewBuffer(Config{Capacity: 10, DedupWindow: 2 * time.Second}, clock)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}

	if !b.Add(Item{Kind: KindText, Content: "A", Speaker: SpeakerTeacher}) {
		t.Fatalf("first add suppressed")
	}
	advance(100 * time.Millisecond)
	if !b.Add(Item{Kind: KindText, Content: "B", Speaker: SpeakerStudent}) {
		t.Fatalf("second add suppressed")
	}
	advance(100 * time.Millisecond)
	// A' duplicates A within the window.
	if b.Add(Item{Kind: KindText, Content: "A", Speaker: SpeakerTeacher}) {
		t.Fatalf("duplicate add was not suppressed")
	}

	items := b.Items()
	if len(items) != 2 || items[0].Content != "A" || items[1].Content != "B" {
		t.Fatalf("expected [A B], got %+v", items)
	}
}

func TestBuffer_DuplicateOutsideWindowIsKept(t *testing.T) {
	clock, advance := testClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	b, err := NewBuffer(Config{Capacity: 10, DedupWindow: 2 * time.Second}, clock)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}

	b.Add(Item{Content: "A", Speaker: SpeakerTeacher})
	advance(3 * time.Second)
	if !b.Add(Item{Content: "A", Speaker: SpeakerTeacher}) {
		t.Fatalf("legitimate repeat outside the window was suppressed")
	}
	if b.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", b.Len())
	}
}

func TestBuffer_SameContentDifferentSpeakerIsNotADuplicate(t *testing.T) {
	clock, _ := testClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	b, _ := NewBuffer(Config{Capacity: 10, DedupWindow: 2 * time.Second}, clock)

	b.Add(Item{Content: "x + 5", Speaker: SpeakerTeacher})
	if !b.Add(Item{Content: "x + 5", Speaker: SpeakerStudent}) {
		t.Fatalf("different speaker suppressed")
	}
}

func TestBuffer_DropOldestAtCapacity(t *testing.T) {
	clock, advance := testClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	b, _ := NewBuffer(Config{Capacity: 3, DedupWindow: 0}, clock)

	for _, c := range []string{"1", "2", "3", "4", "5"} {
		b.Add(Item{Content: c, Speaker: SpeakerTeacher})
		advance(time.Second)
	}
	items := b.Items()
	if len(items) != 3 {
		t.Fatalf("expected capacity 3, got %d", len(items))
	}
	if items[0].Content != "3" || items[2].Content != "5" {
		t.Fatalf("expected oldest dropped, got %+v", items)
	}
}

func TestBuffer_SubscribersNotifiedAndPanicsContained(t *testing.T) {
	clock, _ := testClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	b, _ := NewBuffer(Config{Capacity: 10, DedupWindow: 0}, clock)

	var got []string
	unsubPanic := b.Subscribe(func(Item) { panic("subscriber bug") })
	defer unsubPanic()
	unsub := b.Subscribe(func(it Item) { got = append(got, it.Content) })

	if !b.Add(Item{Content: "hello", Speaker: SpeakerTeacher}) {
		t.Fatalf("add failed under panicking subscriber")
	}
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("healthy subscriber missed notification: %v", got)
	}

	unsub()
	b.Add(Item{Content: "again", Speaker: SpeakerTeacher})
	if len(got) != 1 {
		t.Fatalf("unsubscribed callback still invoked: %v", got)
	}
}

func TestBuffer_ClearKeepsSubscriptions(t *testing.T) {
	clock, _ := testClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	b, _ := NewBuffer(Config{Capacity: 10, DedupWindow: 0}, clock)

	count := 0
	defer b.Subscribe(func(Item) { count++ })()

	b.Add(Item{Content: "one", Speaker: SpeakerStudent})
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("clear left %d items", b.Len())
	}
	b.Add(Item{Content: "two", Speaker: SpeakerStudent})
	if count != 2 {
		t.Fatalf("expected 2 notifications across clear, got %d", count)
	}
}

func TestBuffer_ConfigValidation(t *testing.T) {
	if _, err := NewBuffer(Config{Capacity: 0}, nil); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
	if _, err := NewBuffer(Config{Capacity: 1, DedupWindow: -time.Second}, nil); err == nil {
		t.Fatalf("expected error for negative dedup window")
	}
}
