package transcript

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// SpanKind partitions transcript output.
type SpanKind string

const (
	SpanText SpanKind = "text"
	SpanMath SpanKind = "math"
)

// Span is one ordered slice of processed transcript.
type Span struct {
	Kind     SpanKind `json:"kind"`
	Content  string   `json:"content"`
	Rendered string   `json:"rendered,omitempty"`
}

// ProcessedText is the full segmentation of one transcription line.
type ProcessedText struct {
	Speaker string `json:"speaker"`
	Spans   []Span `json:"spans"`
}

// MathSegment locates one detected math span inside the source text.
// End is exclusive.
type MathSegment struct {
	Start   int
	End     int
	Content string
}

// Rule is one detection pattern. Earlier rules win on overlap, so callers
// extend detection by prepending more specific rules.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// DetectorConfig carries the ordered rule table.
type DetectorConfig struct {
	Rules []Rule
}

const operand = `(?:[a-z]|\d+(?:\.\d+)?)`
const operator = `(?:plus|minus|times|divided\s+by|over|equals)`

// DefaultRules covers explicit delimiters and the spoken-math phrasings a
// tutoring transcript produces. Bare numerals next to ordinary nouns
// ("25 students") never match: every rule demands an operator word, a
// power word, or explicit delimiters.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "dollar_delimited", Pattern: regexp.MustCompile(`\$[^$\n]+\$`)},
		{Name: "paren_delimited", Pattern: regexp.MustCompile(`\\\(.+?\\\)`)},
		{Name: "square_root", Pattern: regexp.MustCompile(`(?i)\b(?:square|cube)\s+root\s+of\s+` + operand + `\b`)},
		{Name: "power_phrase", Pattern: regexp.MustCompile(`(?i)\b` + operand + `\s+to\s+the\s+power\s+of\s+` + operand + `\b`)},
		{Name: "squared_cubed", Pattern: regexp.MustCompile(`(?i)\b` + operand + `\s+(?:squared|cubed)\b`)},
		{Name: "spoken_expression", Pattern: regexp.MustCompile(
			`(?i)\b` + operand + `(?:\s+` + operator + `\s+` + operand + `)+\b`)},
	}
}

// Processor segments transcript text into plain and math spans and renders
// the math spans. Rendering is memoized per distinct input.
type Processor struct {
	rules []Rule

	memoMu sync.RWMutex
	memo   map[string]rendered
}

type rendered struct {
	markup string
	ok     bool
}

// NewProcessor builds a Processor; an empty config takes DefaultRules.
func NewProcessor(cfg DetectorConfig) *Processor {
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Processor{
		rules: rules,
		memo:  make(map[string]rendered),
	}
}

// DetectMath returns the non-overlapping math segments of text in source
// order. Empty input yields nil.
func (p *Processor) DetectMath(text string) []MathSegment {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var segs []MathSegment
	claimed := func(start, end int) bool {
		for _, s := range segs {
			if start < s.End && end > s.Start {
				return true
			}
		}
		return false
	}

	for _, rule := range p.rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			if claimed(loc[0], loc[1]) {
				continue
			}
			segs = append(segs, MathSegment{
				Start:   loc[0],
				End:     loc[1],
				Content: text[loc[0]:loc[1]],
			})
		}
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	return segs
}

// ProcessTranscription segments text for the given speaker. Invalid or
// empty input produces an empty result rather than an error; transcription
// has to survive upstream noise.
func (p *Processor) ProcessTranscription(text, speaker string) ProcessedText {
	out := ProcessedText{Speaker: speaker}
	if strings.TrimSpace(text) == "" {
		return out
	}

	segs := p.DetectMath(text)
	pos := 0
	for _, seg := range segs {
		if seg.Start > pos {
			if plain := strings.TrimSpace(text[pos:seg.Start]); plain != "" {
				out.Spans = append(out.Spans, Span{Kind: SpanText, Content: plain})
			}
		}
		markup, _ := p.RenderMath(seg.Content)
		out.Spans = append(out.Spans, Span{Kind: SpanMath, Content: seg.Content, Rendered: markup})
		pos = seg.End
	}
	if pos < len(text) {
		if plain := strings.TrimSpace(text[pos:]); plain != "" {
			out.Spans = append(out.Spans, Span{Kind: SpanText, Content: plain})
		}
	}
	return out
}
