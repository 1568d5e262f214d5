// Package outbound prepares and delivers replies: sanitization, size-aware
// segmentation, and ordered paced sending.
package outbound

import "strings"

// Sanitize strips formatting that renders badly in Instagram DMs.
// Parentheses become spaces, markdown-ish punctuation is removed, and the
// result is whitespace-trimmed. Applied uniformly before every send.
func Sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch r {
		case '(', ')':
			b.WriteRune(' ')
		case '*', '_', '"', '~', '`', '>', '|', '[', ']', '{', '}', '+', '=':
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
