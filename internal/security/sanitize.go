package security

import (
	"fmt"
	"regexp"
	"strings"
)

const maxSanitizedChars = 4000

var urlRE = regexp.MustCompile(`(?i)(https?://\S+)`)
var longURLRE = regexp.MustCompile(`(?i)(https?://\S{120,})`)

// Sanitize cleans inbound text before it touches policy or storage:
// control characters (except tab and newline) are stripped, text longer
// than 4000 chars is truncated, and URLs over 120 chars are redacted.
// The returned issue tags record what happened; they land in message
// metadata. Sanitize is idempotent.
func Sanitize(text string) (string, []string) {
	var issues []string

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r >= ' ' || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned != text {
		issues = append(issues, "control_chars_removed")
	}

	urls := urlRE.FindAllString(cleaned, -1)

	if runes := []rune(cleaned); len(runes) > maxSanitizedChars {
		cleaned = string(runes[:maxSanitizedChars])
		issues = append(issues, "truncated")
	}

	cleaned = longURLRE.ReplaceAllString(cleaned, "[link_redacted]")

	if len(urls) > 0 {
		issues = append(issues, fmt.Sprintf("urls:%d", len(urls)))
	}
	return cleaned, issues
}
