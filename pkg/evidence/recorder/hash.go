package recorder

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"
)

// HashString returns the hex SHA-256 of s, or "" for empty input.
func HashString(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// TruncateString shortens s to at most maxLen bytes, ending in "..." when
// cut. The cut never splits a UTF-8 sequence. A non-positive maxLen disables
// truncation.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:runeBoundary(s, maxLen)]
	}
	return s[:runeBoundary(s, maxLen-3)] + "..."
}

// runeBoundary returns the largest index <= n that starts a rune in s.
func runeBoundary(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
