package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateOrderID     = errors.New("order id already exists")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrConcurrencyExhausted = errors.New("balance update retries exhausted")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrStatusConflict       = errors.New("order status changed concurrently")
	// ErrLedgerEntryExists means the order already has a ledger entry in that
	// direction; the balance was left untouched.
	ErrLedgerEntryExists = errors.New("ledger entry already recorded for order")
)

// ValidationError describes a rejected order request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
