package backoff

import (
	"testing"
	"time"
)

func noJitter() float64 { return 0 }

func TestBackoff_MonotonicUntilCeiling(t *testing.T) {
	p, err := New(Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2.0,
	}, noJitter)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := p.NextDelay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > 2*time.Second {
			t.Fatalf("delay exceeded ceiling at attempt %d: %v", attempt, d)
		}
		prev = d
	}
	if got := p.NextDelay(50); got != 2*time.Second {
		t.Fatalf("expected ceiling after cap, got %v", got)
	}
}

func TestBackoff_ExactCurve(t *testing.T) {
	p, err := New(Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   8 * time.Second,
		Multiplier: 2.0,
	}, noJitter)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.NextDelay(i); got != w {
			t.Fatalf("attempt %d: got %v want %v", i, got, w)
		}
	}
}

func TestBackoff_CounterAdvancesAndResets(t *testing.T) {
	p, err := New(Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   4 * time.Second,
		Multiplier: 2.0,
	}, noJitter)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	if d := p.Next(); d != 1*time.Second {
		t.Fatalf("first Next: got %v", d)
	}
	if d := p.Next(); d != 2*time.Second {
		t.Fatalf("second Next: got %v", d)
	}
	if p.Attempt() != 2 {
		t.Fatalf("attempt counter: got %d", p.Attempt())
	}
	p.Reset()
	if p.Attempt() != 0 {
		t.Fatalf("attempt counter after reset: got %d", p.Attempt())
	}
	if d := p.Next(); d != 1*time.Second {
		t.Fatalf("Next after reset: got %v", d)
	}
}

func TestBackoff_JitterStaysBelowNominal(t *testing.T) {
	p, err := New(Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.5,
	}, func() float64 { return 1 })
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	if got := p.NextDelay(2); got != 2*time.Second {
		t.Fatalf("expected fully-jittered 4s*0.5=2s, got %v", got)
	}
}

func TestBackoff_ConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero base", Config{BaseDelay: 0, MaxDelay: time.Second, Multiplier: 2}},
		{"multiplier one", Config{BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}},
		{"max below base", Config{BaseDelay: 2 * time.Second, MaxDelay: time.Second, Multiplier: 2}},
		{"jitter above one", Config{BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 2, Jitter: 1.5}},
	}
	for _, tc := range cases {
		if _, err := New(tc.cfg, nil); err == nil {
			t.Fatalf("%s: expected configuration error", tc.name)
		}
	}
}
