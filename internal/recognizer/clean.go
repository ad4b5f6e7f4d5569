package recognizer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var typographic = strings.NewReplacer(
	"\u2018", "'",
	"\u2019", "'",
	"\u201C", "\"",
	"\u201D", "\"",
	"\u201E", "\"",
	"\u00AB", "\"",
	"\u00BB", "\"",
	"\u2013", "-",
	"\u2014", "-",
	"\u2212", "-",
	"\u00D7", "x",
)

var wsRe = regexp.MustCompile(`\s+`)

// CleanText normalizes recognized text: NFC, typographic punctuation folded
// to ASCII, zero-width and control characters removed, whitespace collapsed
// and wrapping quotes or code fences a vision model may add stripped.
// NBSP and narrow NBSP are kept since they act as thousands separators.
func CleanText(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFC.String(s)
	s = typographic.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF':
			continue
		case '\n', '\r', '\t':
			b.WriteRune(' ')
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	s = strings.TrimSpace(b.String())
	s = stripWrapping(s)
	return collapseSpaces(s)
}

func collapseSpaces(s string) string {
	// Collapse ASCII runs only; \s does not match NBSP in RE2.
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

func stripWrapping(s string) string {
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '`' && last == '`') {
			s = s[1 : len(s)-1]
		}
	}
	return s
}

// LooksLikeText reports whether s is plausible cell text: mostly letters,
// digits and punctuation rather than recognition noise.
func LooksLikeText(s string) bool {
	if s == "" {
		return true
	}
	var text, total int
	for _, r := range s {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || strings.ContainsRune(".,'-/%()", r) {
			text++
		}
	}
	return float64(text)/float64(total) >= 0.5
}
