package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is a local, pre-submission failure. It never reaches the
// backend.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Fields, ", "))
}

// AuthorizationError reports that the backend denied the call.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

// ConflictError reports a unique-key or state conflict. Its message is shown
// to the user verbatim.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// TransientError covers network and server failures. Callers roll back and
// leave retry to the user.
type TransientError struct {
	Message string
}

func (e *TransientError) Error() string { return e.Message }

// ErrNotFound is returned when a record lookup fails.
type ErrNotFound struct {
	Table string
	ID    string
}

func (e ErrNotFound) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("record %s not found", e.ID)
	}
	return fmt.Sprintf("%s %s not found", e.Table, e.ID)
}

// Message prefixes backends use so Classify can recover the taxonomy from the
// error string channel.
const (
	MsgPermissionDenied = "permission denied"
	MsgDuplicate        = "duplicate value"
	MsgRequired         = "missing required field"
	MsgNotFound         = "not found"
	MsgUnknownField     = "unknown field"
	MsgReservedID       = "reserved id"
)

// Classify maps a backend error string onto the error taxonomy.
func Classify(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, MsgPermissionDenied),
		strings.Contains(lower, "row-level security"),
		strings.Contains(msg, "권한"):
		return &AuthorizationError{Message: msg}
	case strings.Contains(lower, MsgDuplicate),
		strings.Contains(lower, "duplicate key"),
		strings.Contains(lower, "unique constraint"),
		strings.Contains(lower, "already exists"),
		strings.Contains(msg, "중복"):
		return &ConflictError{Message: msg}
	case strings.Contains(lower, MsgRequired),
		strings.Contains(lower, MsgUnknownField),
		strings.Contains(lower, MsgReservedID),
		strings.Contains(lower, "violates not-null"):
		return &ValidationError{Message: msg}
	default:
		return &TransientError{Message: msg}
	}
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var target ErrNotFound
	return errors.As(err, &target)
}
