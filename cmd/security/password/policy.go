package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks password against the policy. Length is counted in runes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

var trivialPasswords = map[string]struct{}{
	"password":    {},
	"password123": {},
	"123456":      {},
	"12345678":    {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"letmein":     {},
	"iloveyou":    {},
	"secret":      {},
	"secrets":     {},
}

// looksVeryWeak rejects a handful of obvious patterns. It is not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	onlyDigits := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) == -1
	if onlyDigits && utf8.RuneCountInString(s) < 12 {
		return true
	}

	_, trivial := trivialPasswords[strings.ToLower(s)]
	return trivial
}
