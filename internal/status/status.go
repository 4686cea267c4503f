// Package status defines the error taxonomy reported by configure-time checks.
//
// Every error produced while describing tensors, building windows, selecting
// strategies or validating a configuration unwraps to exactly one of the
// sentinels below, so callers can branch with errors.Is.
package status

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration covers bad shapes, strides and window arithmetic.
	ErrConfiguration = errors.New("configuration error")
	// ErrUnsupported means no registered strategy matches the request.
	ErrUnsupported = errors.New("unsupported configuration")
	// ErrValidation means the selected strategy rejected the concrete shapes.
	ErrValidation = errors.New("validation failed")
)

type configurationError struct {
	msg string
}

func (e configurationError) Error() string {
	return e.msg
}

func (e configurationError) Unwrap() error {
	return ErrConfiguration
}

// Configuration returns an error that unwraps to ErrConfiguration.
func Configuration(format string, args ...any) error {
	return configurationError{msg: fmt.Sprintf(format, args...)}
}

type unsupportedError struct {
	msg string
}

func (e unsupportedError) Error() string {
	return e.msg
}

func (e unsupportedError) Unwrap() error {
	return ErrUnsupported
}

// Unsupported returns an error that unwraps to ErrUnsupported.
func Unsupported(format string, args ...any) error {
	return unsupportedError{msg: fmt.Sprintf(format, args...)}
}

// ValidationError carries the human-readable reason a strategy rejected a
// configuration.
type ValidationError struct {
	Strategy string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Strategy == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("strategy %s: %s", e.Strategy, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Validation returns a *ValidationError for the named strategy.
func Validation(strategy, format string, args ...any) error {
	return &ValidationError{Strategy: strategy, Reason: fmt.Sprintf(format, args...)}
}

// Reason extracts the diagnostic reason from a validation error, or the
// plain error text for anything else.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return err.Error()
}

// Kind names the taxonomy class of err: "configuration", "unsupported",
// "validation" or "" when err is not part of the taxonomy.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return ""
	}
}
