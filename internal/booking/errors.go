package booking

import (
	"errors"
	"fmt"
)

var (
	ErrSlotConflict            = errors.New("slot already booked")
	ErrBookingNotFound         = errors.New("booking not found")
	ErrBookingCancelled        = errors.New("booking is cancelled")
	ErrGroupBusy               = errors.New("booking group is being modified, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// ValidationError reports missing or malformed input.
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

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// GroupedRowError refuses a single-row cancel of a booking that belongs to a
// group.
func GroupedRowError(bookNumber string) error {
	return invalid("id", fmt.Sprintf("booking belongs to group %s; cancel it by book_number", bookNumber))
}

// StoreError wraps a persistence failure that is not a domain outcome.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
