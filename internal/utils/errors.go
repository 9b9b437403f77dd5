package utils

import (
	"errors"
	"fmt"
)

// ValidationError represents an error occurring during data validation.
type ValidationError struct {
	Message string
}

// Error returns the error message string.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError with a specific message.
//
// Parameters:
//   - message: The validation error message.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewValidationError(message string) error {
	return &ValidationError{
		Message: message,
	}
}

// NewValidationErrorf creates a new ValidationError with a formatted message.
func NewValidationErrorf(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf(format, args...),
	}
}

// Machine-readable reasons for excluding an asset or pair from a cycle.
const (
	ReasonInsufficientHistory  = "insufficient_history"
	ReasonAlignmentFailed      = "alignment_failed"
	ReasonDegenerateRegression = "degenerate_regression"
	ReasonLowCorrelation       = "low_correlation"
	ReasonNotCointegrated      = "not_cointegrated"
	ReasonHalfLifeGate         = "half_life_gate"
	ReasonZScoreGate           = "zscore_gate"
	ReasonRSIGate              = "rsi_gate"
	ReasonFetchFailed          = "fetch_failed"
	ReasonDataQuality          = "data_quality"
	ReasonNotTradable          = "not_tradable"
)

// SkipError explains why Subject was left out of a cycle's output.
type SkipError struct {
	Subject string
	Reason  string
	Err     error
}

func (e *SkipError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s skipped (%s): %v", e.Subject, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s skipped (%s)", e.Subject, e.Reason)
}

func (e *SkipError) Unwrap() error {
	return e.Err
}

// NewSkipError creates a SkipError; err may be nil.
func NewSkipError(subject, reason string, err error) error {
	return &SkipError{Subject: subject, Reason: reason, Err: err}
}

// SkipReason extracts the reason code from err, or "" if err is not a SkipError.
func SkipReason(err error) string {
	var skip *SkipError
	if errors.As(err, &skip) {
		return skip.Reason
	}
	return ""
}
