package textutil

import (
	"strings"
	"unicode/utf8"
)

// Truncate shortens s to at most limit runes, appending an ellipsis when it
// had to cut. Platforms count characters, not bytes.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}

// NormalizeKeyword prepares a trigger value or content string for
// case-insensitive matching.
func NormalizeKeyword(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ContainsKeyword reports whether content contains keyword, ignoring case
// and surrounding whitespace. An empty keyword never matches.
func ContainsKeyword(content, keyword string) bool {
	kw := NormalizeKeyword(keyword)
	if kw == "" {
		return false
	}
	return strings.Contains(NormalizeKeyword(content), kw)
}

// FirstLine returns the first line of s, for compact log output.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
