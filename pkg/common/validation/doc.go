// Package validation provides common validation utilities for configuration
// parameters across the taskpool library.
//
// Every failure is a *errors.ValidationError, so callers can match any of
// them with errors.Is(err, errors.ErrInvalidConfiguration).
package validation
