package transcript

import (
	"strings"
	"testing"
)

func TestDetectMath_NumeralsAreNotMath(t *testing.T) {
	p := NewProcessor(DetectorConfig{})

	segs := p.DetectMath("There are 25 students studying x plus 5")
	if len(segs) != 1 {
		t.Fatalf("expected exactly one math segment, got %d: %+v", len(segs), segs)
	}
	if segs[0].Content != "x plus 5" {
		t.Fatalf("expected %q, got %q", "x plus 5", segs[0].Content)
	}
}

func TestDetectMath_PlainSentenceHasNoSegments(t *testing.T) {
	p := NewProcessor(DetectorConfig{})
	for _, line := range []string{
		"We have 30 minutes left in the lesson",
		"Chapter 4 covers quadratic equations",
		"",
		"   ",
	} {
		if segs := p.DetectMath(line); len(segs) != 0 {
			t.Fatalf("%q: expected no math, got %+v", line, segs)
		}
	}
}

func TestDetectMath_VarietyOfPhrasings(t *testing.T) {
	p := NewProcessor(DetectorConfig{})
	cases := []struct {
		line string
		want string
	}{
		{"now compute the square root of 16 please", "square root of 16"},
		{"what is x squared here", "x squared"},
		{"take 2 to the power of 10", "2 to the power of 10"},
		{"so 12 divided by 4 equals 3 right", "12 divided by 4 equals 3"},
		{"the answer is $\\frac{1}{2}$ exactly", "$\\frac{1}{2}$"},
	}
	for _, tc := range cases {
		segs := p.DetectMath(tc.line)
		if len(segs) != 1 {
			t.Fatalf("%q: expected one segment, got %+v", tc.line, segs)
		}
		if segs[0].Content != tc.want {
			t.Fatalf("%q: got %q want %q", tc.line, segs[0].Content, tc.want)
		}
	}
}

func TestDetectMath_SegmentsAreOrderedAndDisjoint(t *testing.T) {
	p := NewProcessor(DetectorConfig{})
	segs := p.DetectMath("first x plus 5 then y minus 2 done")
	if len(segs) != 2 {
		t.Fatalf("expected two segments, got %+v", segs)
	}
	if segs[0].Start >= segs[1].Start {
		t.Fatalf("segments out of order: %+v", segs)
	}
	if segs[0].End > segs[1].Start {
		t.Fatalf("segments overlap: %+v", segs)
	}
}

func TestRenderMath_SpokenToLatex(t *testing.T) {
	p := NewProcessor(DetectorConfig{})
	cases := []struct {
		in   string
		want string
	}{
		{"x plus 5", "x + 5"},
		{"3 times y equals 12", `3 \times y = 12`},
		{"x squared plus 4", "x^{2} + 4"},
		{"square root of 16", `\sqrt{16}`},
		{"12 divided by 4", `12 \div 4`},
		{"2 to the power of 10", "2^{10}"},
		{"$\\frac{1}{2}$", `\frac{1}{2}`},
	}
	for _, tc := range cases {
		got, ok := p.RenderMath(tc.in)
		if !ok {
			t.Fatalf("%q: unexpected render failure", tc.in)
		}
		if got != tc.want {
			t.Fatalf("%q: got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestRenderMath_DegradesNeverPanics(t *testing.T) {
	p := NewProcessor(DetectorConfig{})
	for _, malformed := range []string{
		"$\\frac{1{2}$",
		"$$",
		"",
		"   ",
	} {
		got, ok := p.RenderMath(malformed)
		if ok {
			t.Fatalf("%q: expected degraded render", malformed)
		}
		if got != malformed {
			t.Fatalf("%q: fallback must return the original input, got %q", malformed, got)
		}
	}
}

func TestRenderMath_Memoized(t *testing.T) {
	p := NewProcessor(DetectorConfig{})
	first, _ := p.RenderMath("x plus 5")
	second, _ := p.RenderMath("x plus 5")
	if first != second {
		t.Fatalf("memoized results differ: %q vs %q", first, second)
	}
	p.memoMu.RLock()
	n := len(p.memo)
	p.memoMu.RUnlock()
	if n != 1 {
		t.Fatalf("expected one memo entry, got %d", n)
	}
}

func TestProcessTranscription_SegmentsInOrder(t *testing.T) {
	p := NewProcessor(DetectorConfig{})
	out := p.ProcessTranscription("There are 25 students studying x plus 5 today", "teacher")
	if out.Speaker != "teacher" {
		t.Fatalf("speaker lost: %+v", out)
	}
	if len(out.Spans) != 3 {
		t.Fatalf("expected text/math/text, got %+v", out.Spans)
	}
	if out.Spans[0].Kind != SpanText || !strings.Contains(out.Spans[0].Content, "25 students") {
		t.Fatalf("leading text span wrong: %+v", out.Spans[0])
	}
	if out.Spans[1].Kind != SpanMath || out.Spans[1].Content != "x plus 5" || out.Spans[1].Rendered != "x + 5" {
		t.Fatalf("math span wrong: %+v", out.Spans[1])
	}
	if out.Spans[2].Kind != SpanText || out.Spans[2].Content != "today" {
		t.Fatalf("trailing text span wrong: %+v", out.Spans[2])
	}
}

func TestProcessTranscription_EmptyInputPassesThrough(t *testing.T) {
	p := NewProcessor(DetectorConfig{})
	out := p.ProcessTranscription("", "student")
	if len(out.Spans) != 0 {
		t.Fatalf("expected no spans, got %+v", out.Spans)
	}
}
