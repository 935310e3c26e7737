package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	emailStrip   = regexp.MustCompile(`[<>;\\]`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// SanitizeEmail trims, lowercases and strips dangerous characters
func SanitizeEmail(email string) string {
	email = strings.TrimSpace(email)
	email = strings.ToLower(email)
	return emailStrip.ReplaceAllString(email, "")
}

// ValidEmail reports whether email has a plausible address shape
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// SanitizeName trims a display name and removes control characters
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(name)
}
