// Package sanitize provides text sanitization utilities for values that end up
// rendered by the inbox UI.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

const maxDisplayNameRunes = 120

var (
	// htmlTagRegex matches HTML tags
	htmlTagRegex = regexp.MustCompile(`<[^>]*>`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

// StripHTML removes all HTML tags from a string, making it safe for text-only display.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = strings.ReplaceAll(result, "&lt;", "<")
	result = strings.ReplaceAll(result, "&gt;", ">")
	result = strings.ReplaceAll(result, "&amp;", "&")
	result = strings.ReplaceAll(result, "&quot;", "\"")
	result = strings.ReplaceAll(result, "&#39;", "'")
	// Re-strip after entity decode to catch encoded tags
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// DisplayName cleans a gateway-reported contact name: tags and control
// characters are removed, whitespace collapsed and the result truncated.
func DisplayName(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, StripHTML(s))
	cleaned = strings.TrimSpace(spaceRun.ReplaceAllString(cleaned, " "))

	runes := []rune(cleaned)
	if len(runes) > maxDisplayNameRunes {
		cleaned = strings.TrimSpace(string(runes[:maxDisplayNameRunes]))
	}
	return cleaned
}
