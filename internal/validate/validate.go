// Package validate holds the input rules shared by the client forms and the
// reference backend.
package validate

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// ResetCodeLength is the number of digits in a one-time code.
const ResetCodeLength = 4

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)
	phoneRe    = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
)

// Email reports whether s is a bare, syntactically valid address.
func Email(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Code reports whether s is a 4-digit numeric one-time code.
func Code(s string) bool {
	if len(s) != ResetCodeLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Username reports whether s is an acceptable username.
func Username(s string) bool {
	return usernameRe.MatchString(s)
}

// Phone reports whether s looks like an international phone number.
// Spaces, dashes and parentheses are ignored.
func Phone(s string) bool {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(s)
	return phoneRe.MatchString(cleaned)
}

// PasswordLong reports whether pw has at least MinPasswordLength characters.
func PasswordLong(pw string) bool {
	return utf8.RuneCountInString(pw) >= MinPasswordLength
}

// Password returns the offending field and a message when pw/confirm are
// unacceptable, or empty strings when they are fine.
func Password(pw, confirm string) (field, message string) {
	switch {
	case !PasswordLong(pw):
		return "password", "password must be at least 6 characters"
	case pw != confirm:
		return "confirmPassword", "passwords do not match"
	}
	return "", ""
}
