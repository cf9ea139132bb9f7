package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine-scoped failures so callers can map them to
// transport-level responses without string matching.
type ErrorKind string

const (
	ErrMalformedForecast    ErrorKind = "malformed_forecast"
	ErrUnusableForecast     ErrorKind = "unusable_forecast"
	ErrUpstreamUnavailable  ErrorKind = "upstream_unavailable"
	ErrConfigurationInvalid ErrorKind = "configuration_invalid"
	ErrInfeasibleSchedule   ErrorKind = "infeasible_schedule"
	ErrDegradedSchedule     ErrorKind = "degraded_schedule"
	ErrPersistenceConflict  ErrorKind = "persistence_conflict"
)

// KindError is an error carrying an ErrorKind. It supports errors.Is/As and
// unwraps to any underlying cause.
type KindError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *KindError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// Errorf creates a KindError with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *KindError {
	return &KindError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError creates a KindError wrapping an underlying cause.
func WrapError(kind ErrorKind, err error, msg string) *KindError {
	return &KindError{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the ErrorKind of err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
