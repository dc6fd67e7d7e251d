package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("invalid session configuration")
	ErrSessionNotFound = errors.New("session not found")
	ErrAlreadyRunning  = errors.New("session is already running")
	ErrNotRunning      = errors.New("session is not running")
	ErrConflict        = errors.New("session is running")
	ErrRunNotFound     = errors.New("run not found")
	ErrSecretNotFound  = errors.New("secret not found")

	// ErrTransient marks gateway or scoring failures worth retrying.
	ErrTransient = errors.New("transient i/o failure")
	// ErrParse marks a malformed scoring response. Never retried.
	ErrParse = errors.New("malformed scoring response")
	// ErrFatalLoop terminates the owning loop as crashed.
	ErrFatalLoop = errors.New("fatal loop failure")
)

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
