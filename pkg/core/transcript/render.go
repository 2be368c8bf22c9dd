package transcript

import (
	"regexp"
	"strings"
)

var (
	reSquareRoot  = regexp.MustCompile(`(?i)\bsquare\s+root\s+of\s+(\S+)`)
	reCubeRoot    = regexp.MustCompile(`(?i)\bcube\s+root\s+of\s+(\S+)`)
	rePowerPhrase = regexp.MustCompile(`(?i)\s+to\s+the\s+power\s+of\s+(\S+)`)
	reSquared     = regexp.MustCompile(`(?i)(\S+)\s+squared\b`)
	reCubed       = regexp.MustCompile(`(?i)(\S+)\s+cubed\b`)
	reDividedBy   = regexp.MustCompile(`(?i)\s+divided\s+by\s+`)
)

var spokenOps = map[string]string{
	"plus":   "+",
	"minus":  "-",
	"times":  `\times`,
	"over":   "/",
	"equals": "=",
}

// RenderMath converts a detected math span into display markup (LaTeX,
// ready for a client-side renderer). The second return is false when the
// input could not be rendered; the markup is then the original span text
// so a bad expression never blocks the transcript stream. Results are
// memoized per distinct input, since upstream retries replay the same
// expressions.
func (p *Processor) RenderMath(expr string) (string, bool) {
	p.memoMu.RLock()
	if r, ok := p.memo[expr]; ok {
		p.memoMu.RUnlock()
		return r.markup, r.ok
	}
	p.memoMu.RUnlock()

	markup, ok := renderMath(expr)

	p.memoMu.Lock()
	p.memo[expr] = rendered{markup: markup, ok: ok}
	p.memoMu.Unlock()
	return markup, ok
}

func renderMath(expr string) (string, bool) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return expr, false
	}

	// Explicit delimiters carry LaTeX already; validate rather than
	// translate.
	if inner, ok := stripDelimiters(trimmed); ok {
		if !balancedBraces(inner) || strings.TrimSpace(inner) == "" {
			return expr, false
		}
		return inner, true
	}

	latex := trimmed
	latex = reSquareRoot.ReplaceAllString(latex, `\sqrt{$1}`)
	latex = reCubeRoot.ReplaceAllString(latex, `\sqrt[3]{$1}`)
	latex = rePowerPhrase.ReplaceAllString(latex, `^{$1}`)
	latex = reSquared.ReplaceAllString(latex, `$1^{2}`)
	latex = reCubed.ReplaceAllString(latex, `$1^{3}`)
	latex = reDividedBy.ReplaceAllString(latex, ` \div `)

	words := strings.Fields(latex)
	for i, w := range words {
		if op, ok := spokenOps[strings.ToLower(w)]; ok {
			words[i] = op
		}
	}
	out := strings.Join(words, " ")
	if !balancedBraces(out) {
		return expr, false
	}
	return out, true
}

func stripDelimiters(s string) (string, bool) {
	if len(s) >= 2 && strings.HasPrefix(s, "$") && strings.HasSuffix(s, "$") {
		return s[1 : len(s)-1], true
	}
	if len(s) >= 4 && strings.HasPrefix(s, `\(`) && strings.HasSuffix(s, `\)`) {
		return s[2 : len(s)-2], true
	}
	return "", false
}

func balancedBraces(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
