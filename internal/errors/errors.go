// Package errors provides the error taxonomy shared by the sync engine. Sentinels express
// intent (retry, surface, resolve) rather than infrastructure details; use cases wrap them
// with context and callers branch on them with Is.
package errors

import (
	"errors"
	"fmt"
)

// Generic domain errors.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates the input data is invalid or fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates missing or unusable credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// Sync taxonomy.
var (
	// ErrTransientNetwork covers timeouts, connection failures, 429 and 5xx responses.
	// Retried internally with backoff, never surfaced on its own.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrAuthExpired means the access token was refused and a single refresh did not help.
	ErrAuthExpired = fmt.Errorf("auth expired: %w", ErrUnauthorized)

	// ErrValidationRejected means the server permanently refused a mutation.
	ErrValidationRejected = errors.New("validation rejected")

	// ErrVersionConflict means local and remote versions diverged. Resolved automatically.
	ErrVersionConflict = fmt.Errorf("version conflict: %w", ErrConflict)

	// ErrStorage wraps failures of the local database. Fatal to the triggering call.
	ErrStorage = errors.New("storage error")

	// ErrChannelDisconnected signals the live channel dropped. Recovered by reconnecting.
	ErrChannelDisconnected = errors.New("channel disconnected")

	// ErrReauthenticate is returned once the live channel exhausts its authorization retry budget.
	ErrReauthenticate = fmt.Errorf("reauthenticate: %w", ErrUnauthorized)
)

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context while preserving the error chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Storage marks err as a local storage failure, keeping the original cause in the chain.
func Storage(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", message, ErrStorage, err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join is errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
