package orders

import (
	"errors"
	"strings"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrConflict is returned once the retry budget for write conflicts is spent.
	ErrConflict = errors.New("order could not be committed due to concurrent updates")

	// ErrWriteConflict marks store failures that are safe to retry from the
	// beginning of the transaction. Store adapters wrap it.
	ErrWriteConflict = errors.New("write conflict")
)

// ValidationError carries per-field messages and matches ErrInvalidInput.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + strings.Join(e.Fields, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// IsRetryable reports whether err was caused by a write conflict.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrWriteConflict)
}
