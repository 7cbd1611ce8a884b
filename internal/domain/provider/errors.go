// Package provider defines the failure taxonomy shared by the registrar,
// hosting provider and payment processor clients, and the bounded retry
// loop used around their calls.
package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-faster/errors"
)

var (
	// ErrTransient marks a failure that is safe to retry as-is: connection
	// errors on read-only calls, 429 and 5xx responses.
	ErrTransient = errors.New("transient provider error")

	// ErrUnknownOutcome marks a mutating call whose effect is unknown, e.g. a
	// timeout after the request was sent. The provider may have applied it,
	// so callers must re-check provider-side state before issuing it again.
	ErrUnknownOutcome = errors.New("provider outcome unknown")

	// ErrNotFound is returned by read-only calls for a missing resource.
	ErrNotFound = errors.New("provider resource not found")
)

// PermanentError is a provider rejection that retrying cannot fix: domain
// already taken, payment declined, invalid plan.
type PermanentError struct {
	Provider string
	Code     string
	Message  string
}

func (e *PermanentError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
}

// Permanent constructs a *PermanentError.
func Permanent(providerName, code, message string) error {
	return &PermanentError{Provider: providerName, Code: code, Message: message}
}

// AsPermanent reports whether err wraps a *PermanentError.
func AsPermanent(err error) (*PermanentError, bool) {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrUnknownOutcome)
}

// StatusError classifies a non-2xx provider response.
func StatusError(providerName string, status int, code, message string) error {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return fmt.Errorf("%s: status %d: %s: %w", providerName, status, message, ErrTransient)
	}
	if code == "" {
		code = fmt.Sprintf("http_%d", status)
	}
	return Permanent(providerName, code, message)
}

// TransportError classifies an error returned before a response was read.
// For mutating calls any transport failure is an unknown outcome since the
// request may already have reached the provider.
func TransportError(providerName string, err error, mutating bool) error {
	if mutating {
		return fmt.Errorf("%s: %w: %w", providerName, ErrUnknownOutcome, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: timeout: %w: %w", providerName, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w: %w", providerName, ErrTransient, err)
}
