package service

import (
	"errors"
	"fmt"
)

// Domain errors returned by the attempt engine. Callers match them with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrWindowClosed = errors.New("exam window closed")
	ErrValidation   = errors.New("validation error")
)

// Store-level errors. Stores wrap driver errors into these so the engine stays storage agnostic.
var (
	// ErrStateConflict means a guarded write found the attempt outside the required state.
	ErrStateConflict = errors.New("attempt state conflict")
	// ErrTransient marks a failure that is safe to retry (lock contention, serialization, busy).
	ErrTransient = errors.New("transient storage error")
)

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, ErrNotFound)
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidState)
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}
