// Package autherr defines the closed taxonomy of authentication failures
// shared by the client flows and the reference backend, together with the
// wire codes and HTTP statuses used to carry them over REST.
package autherr

import (
	"errors"
	"net/http"
)

// Kind classifies an authentication failure.
type Kind int

const (
	// Transport covers network and unexpected HTTP-layer failures. It is the
	// zero value so that unclassified errors fall into it.
	Transport Kind = iota
	// Validation is a field-scoped input error.
	Validation
	InvalidCredentials
	AccountLocked
	AccountDeactivated
	DuplicateEmail
	DuplicateUsername
	InvalidOrExpiredCode
	Unauthenticated
	// Internal is a backend failure; clients observe it as Transport.
	Internal
)

var kindCodes = map[Kind]string{
	Transport:            "TRANSPORT",
	Validation:           "VALIDATION",
	InvalidCredentials:   "INVALID_CREDENTIALS",
	AccountLocked:        "ACCOUNT_LOCKED",
	AccountDeactivated:   "ACCOUNT_DEACTIVATED",
	DuplicateEmail:       "DUPLICATE_EMAIL",
	DuplicateUsername:    "DUPLICATE_USERNAME",
	InvalidOrExpiredCode: "INVALID_OR_EXPIRED_CODE",
	Unauthenticated:      "UNAUTHENTICATED",
	Internal:             "INTERNAL",
}

var kindStatus = map[Kind]int{
	Transport:            http.StatusBadGateway,
	Validation:           http.StatusBadRequest,
	InvalidCredentials:   http.StatusUnauthorized,
	AccountLocked:        http.StatusLocked,
	AccountDeactivated:   http.StatusForbidden,
	DuplicateEmail:       http.StatusConflict,
	DuplicateUsername:    http.StatusConflict,
	InvalidOrExpiredCode: http.StatusBadRequest,
	Unauthenticated:      http.StatusUnauthorized,
	Internal:             http.StatusInternalServerError,
}

// String returns the wire code of k.
func (k Kind) String() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[Transport]
}

// Status returns the HTTP status the backend answers with for k.
func (k Kind) Status() int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// KindFromCode parses a wire code. ok is false for unknown codes.
func KindFromCode(code string) (Kind, bool) {
	for k, c := range kindCodes {
		if c == code {
			return k, true
		}
	}
	return Transport, false
}

// Error is a classified authentication failure.
type Error struct {
	Kind Kind
	// Field names the form field the error belongs to, if any.
	Field   string
	Message string
	// Err is the underlying cause, if any.
	Err error
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Field returns a Validation-style error attached to a form field.
func Field(kind Kind, field, message string) *Error {
	return &Error{Kind: kind, Field: field, Message: message}
}

// Wrap classifies err as kind.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, autherr.New(k, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind of err. Unclassified errors are Transport.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transport
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// FieldOf returns the form field err is attached to, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}
