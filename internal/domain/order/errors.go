package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")

	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("order status conflict")

	// ErrStatusMismatch is returned by Repository.CompareAndSwapStatus when
	// no row had the expected status.
	ErrStatusMismatch = errors.New("order status mismatch")

	// ErrInvalid is matched by every *ValidationError.
	ErrInvalid = errors.New("invalid order request")
)

// Validation failures. Nothing is persisted when one is returned.
var (
	ErrCustomerRequired   error = &ValidationError{Field: "customerId", Message: "customer id is required"}
	ErrDomainUnavailable  error = &ValidationError{Field: "domain", Message: "domain is not available"}
	ErrInvalidTerm        error = &ValidationError{Field: "years", Message: "term must be between 1 and 10 years"}
	ErrInvalidQuote       error = &ValidationError{Field: "domain", Message: "quote has no valid price"}
	ErrNotesRequired      error = &ValidationError{Field: "notes", Message: "rejection notes are required"}
	ErrHostingUnavailable error = &ValidationError{Field: "hostingPackageId", Message: "hosting package is not available"}
	ErrCurrencyMismatch   error = &ValidationError{Field: "hostingPackageId", Message: "hosting package currency differs from domain currency"}
)

// ValidationError describes bad input to an order operation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// ConflictError indicates a transition was attempted from the wrong status.
// The caller must refresh the order before retrying.
type ConflictError struct {
	OrderID  string
	Expected Status
	Actual   Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s is %s, expected %s", e.OrderID, e.Actual, e.Expected)
}

// Is makes every ConflictError match ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
