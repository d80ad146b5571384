package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across modules. Callers branch on these with
// errors.Is; wrapped messages carry the detail.
var (
	// ErrNotFound means the requested site, post or subscriber does not
	// exist. Distinct from ErrStorage, which is an infrastructure failure.
	ErrNotFound = errors.New("not found")

	// ErrStorage wraps database failures. The operation aborted with no
	// partial state.
	ErrStorage = errors.New("storage failure")
)

// ValidationError rejects bad caller input before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// SlugConflictError means the requested slug is already taken by a live
// post or by a slug-history entry of the same site. Suggestion is filled
// only when the caller asked for auto-derivation from the title.
type SlugConflictError struct {
	Slug       string
	Suggestion string
}

func (e *SlugConflictError) Error() string {
	return fmt.Sprintf("slug %q already in use", e.Slug)
}

// IsValidation reports whether err is a caller-input rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSlugConflict reports whether err is a slug uniqueness violation.
func IsSlugConflict(err error) bool {
	var sc *SlugConflictError
	return errors.As(err, &sc)
}
