package ledger

import (
	"errors"
	"fmt"
)

// Category is the normalized failure class of a node call.
type Category string

const (
	CategoryTimeout     Category = "timeout"
	CategoryUnavailable Category = "unavailable"
	CategoryNotFound    Category = "not_found"
	CategoryBadData     Category = "bad_data"
	CategoryRejected    Category = "rejected"
	CategoryInternal    Category = "internal"
)

// Error wraps node failures with a category so callers can decide between
// retrying, rejecting and failing the request.
type Error struct {
	Category  Category
	Op        string
	Message   string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger %s [%s]: %s: %v", e.Op, e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("ledger %s [%s]: %s", e.Op, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError classifies timeouts and outages as retryable.
func NewError(category Category, op, message string, err error) *Error {
	return &Error{
		Category:  category,
		Op:        op,
		Message:   message,
		Err:       err,
		Retryable: category == CategoryTimeout || category == CategoryUnavailable,
	}
}

// CategoryOf returns the category of a ledger error, or CategoryInternal.
func CategoryOf(err error) Category {
	var le *Error
	if errors.As(err, &le) {
		return le.Category
	}
	return CategoryInternal
}

// IsNotFound reports whether the node answered that the object does not exist (yet).
func IsNotFound(err error) bool {
	return CategoryOf(err) == CategoryNotFound
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

var (
	// ErrInvalidProof is returned when the node rejects a presentation's proofs.
	ErrInvalidProof = errors.New("invalid cryptographic proof")
	// ErrNotFinal means the transaction is known but not yet finalized.
	ErrNotFinal = errors.New("transaction not finalized")
	// ErrFinalityTimeout means the polling bound was reached.
	ErrFinalityTimeout = errors.New("transaction did not finalize in time")
)
