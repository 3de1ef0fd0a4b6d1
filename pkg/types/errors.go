package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNoData is returned when a classification pass yields zero classified trades
	ErrNoData = errors.New("no classifiable trades")

	// ErrNoOptimum is returned when a search finds no acceptable threshold pair
	ErrNoOptimum = errors.New("no optimal combination found")
)

// InvalidParameterError reports a parameter rejected before any computation starts
type InvalidParameterError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

// NewInvalidParameter builds an InvalidParameterError
func NewInvalidParameter(field string, value any, reason string) error {
	return &InvalidParameterError{Field: field, Value: value, Reason: reason}
}

// IsInvalidParameter reports whether err wraps an InvalidParameterError
func IsInvalidParameter(err error) bool {
	var target *InvalidParameterError
	return errors.As(err, &target)
}
