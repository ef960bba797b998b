package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrBookNotFound is returned when the referenced book does not exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrBorrowingNotFound is returned when no active borrowing matches the
	// given id (and owner, for Cancel). A borrowing that was already returned
	// or canceled reports the same way.
	ErrBorrowingNotFound = errors.New("active borrowing not found")

	// ErrUnavailable is returned when no copies of the book are left.
	ErrUnavailable = errors.New("no copies available")

	// ErrDuplicateActiveLoan is returned when the user already holds an
	// active borrowing for this book.
	ErrDuplicateActiveLoan = errors.New("user already borrowed this book")

	// ErrBusy is returned when an operation could not acquire the book row
	// within the configured timeout. The caller should re-query state before
	// retrying, since the original attempt may have committed.
	ErrBusy = errors.New("ledger busy, try again")
)

// StoreError wraps an infrastructure failure from the persistent store,
// keeping it distinct from the business-rule errors above so callers can
// decide whether a retry makes sense.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsBusinessError reports whether err is one of the terminal business-rule
// failures, as opposed to a store failure.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrBookNotFound) ||
		errors.Is(err, ErrBorrowingNotFound) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrDuplicateActiveLoan)
}
