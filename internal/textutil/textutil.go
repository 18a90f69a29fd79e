package textutil

import "unicode"

// LooksLikeText reports whether a decoded string is plausibly human-readable
// game text: no control characters other than newline and tab, and at least
// one letter or digit.
func LooksLikeText(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return false
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
