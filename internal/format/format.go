// Package format holds the pure per-platform text sanitization applied to
// every outbound assistant message. It has no dependencies on the routing
// engine and no side effects.
package format

import "strings"

// Per-platform hard message length limits, in runes. Anything longer is
// truncated with an ellipsis rather than rejected.
var platformLimits = map[string]int{
	"telegram": 4096,
	"discord":  2000,
	"slack":    40000,
	"whatsapp": 65536,
	"imessage": 20000,
	"teams":    28000,
	"matrix":   64000,
	"line":     5000,
}

// defaultLimit applies to platforms without a known limit.
const defaultLimit = 8000

// IntegrationText sanitizes assistant text for one platform: trims outer
// whitespace, normalizes line endings, strips non-printable control
// characters, and clamps to the platform's message length limit.
func IntegrationText(platform, text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	text = stripControl(text)

	limit, ok := platformLimits[platform]
	if !ok {
		limit = defaultLimit
	}
	return TruncateRunes(text, limit)
}

// stripControl removes control characters other than newline and tab.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// TruncateRunes shortens s to at most max runes, appending "…" when
// truncated. The ellipsis counts against the limit.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
