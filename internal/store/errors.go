package store

import (
	"errors"
	"fmt"
)

var (
	// ErrMachineNotFound is returned when a log names a machine that was
	// never registered.
	ErrMachineNotFound = errors.New("machine not found")
	// ErrSubscriptionNotFound is returned for an unknown push endpoint.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// ValidationError reports a rejected field on insert.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
