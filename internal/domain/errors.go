package domain

import (
	"errors"
	"fmt"
)

// Error classes. Call sites wrap these with context; classify with errors.Is.
var (
	// ErrDataUnavailable: the source could not be retrieved or its contents are malformed.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrSchemaMismatch: an expected column is missing or an unknown column was requested.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrModelNotIdentified: too few observations or a rank-deficient design.
	ErrModelNotIdentified = errors.New("model not identified")
	// ErrInvalidRequest: a bandwidth, degree, or plan value is out of range.
	ErrInvalidRequest = errors.New("invalid request")
)

// FitError records which combination failed during a fit or sweep.
type FitError struct {
	Outcome   Outcome
	Bandwidth int
	Degree    int
	Err       error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("fit %s bandwidth=%d degree=%d: %v", e.Outcome, e.Bandwidth, e.Degree, e.Err)
}

func (e *FitError) Unwrap() error { return e.Err }
