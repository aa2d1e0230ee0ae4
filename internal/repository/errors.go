// Package repository persists users and sessions in Postgres and one-time
// codes in Redis.
package repository

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned by Create when the email is taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateUsername is returned by Create when the username is taken.
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrInvalidCode is returned when a one-time code does not match, was
	// used up, or was never verified.
	ErrInvalidCode = errors.New("invalid or expired code")
)
