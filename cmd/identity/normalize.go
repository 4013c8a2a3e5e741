package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxUsernameLength = 254
	MaxSecretLength   = 4000
)

// NormalizeUsername performs case-insensitive canonicalization (trim + lower-case).
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateUsername checks the trimmed display form of a username.
func ValidateUsername(op, s string) error {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return invalid(op, "username is required")
	case utf8.RuneCountInString(s) > MaxUsernameLength:
		return invalid(op, "username too long")
	case strings.IndexFunc(s, unicode.IsControl) >= 0:
		return invalid(op, "username contains control characters")
	}
	return nil
}

// NormalizeSecret trims s and rejects empty or oversized values.
func NormalizeSecret(op, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", invalid(op, "secret is required")
	}
	if utf8.RuneCountInString(s) > MaxSecretLength {
		return "", invalid(op, "secret too long")
	}
	return s, nil
}
