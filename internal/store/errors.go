package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when a user with the same email
	// (case-insensitive) already exists.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrAlreadyRegistered is returned when the (event, user) pair is
	// already on the roster.
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrNotRegistered is returned when the (event, user) pair is not
	// on the roster.
	ErrNotRegistered = errors.New("not registered")

	// ErrInvalidResetToken is returned when no user holds a matching,
	// unexpired reset token.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
)
