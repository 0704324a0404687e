package main

import (
	"strings"
	"unicode"
)

// sanitizeString removes control characters and caps the rune length. It
// preserves valid Unicode including emojis and CJK text.
func sanitizeString(s string, maxLen int) string {
	if s == "" {
		return ""
	}

	var builder strings.Builder
	builder.Grow(len(s))
	for _, r := range s {
		// Keep tabs and newlines, drop everything else in the control range.
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			continue
		}
		if r == unicode.ReplacementChar {
			continue
		}
		builder.WriteRune(r)
	}

	result := builder.String()
	if len([]rune(result)) > maxLen {
		runes := []rune(result)
		result = string(runes[:maxLen])
	}
	return strings.TrimSpace(result)
}

// sanitizeUsername additionally forbids whitespace inside the name so it
// stays usable as a path segment in the add-friend route.
func sanitizeUsername(s string, maxLen int) string {
	s = sanitizeString(s, maxLen)
	return strings.Join(strings.Fields(s), "_")
}
