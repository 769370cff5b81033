package inbox

import (
	"errors"
	"fmt"
)

// Error types for classifying failures against the proposal service.

// ErrNotFound is returned when a proposal id is not present in the store.
var ErrNotFound = errors.New("proposal not found")

// NetworkError represents a transient transport failure (connection error
// or timeout) that may succeed on retry.
type NetworkError struct {
	err error
}

func (e *NetworkError) Error() string {
	return e.err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.err
}

// NewNetworkError wraps an error as a transient network failure.
func NewNetworkError(err error) error {
	return &NetworkError{err: err}
}

// ServiceError represents a non-2xx business error from the proposal
// service. Not retried automatically.
type ServiceError struct {
	// StatusCode is the HTTP status returned by the service.
	StatusCode int

	// Message is the service's error body, truncated for logs.
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("proposal service error (status %d): %s", e.StatusCode, e.Message)
}

// AuthError represents an authentication failure. Terminal for the current
// session: the caller clears local session state and re-authenticates.
type AuthError struct {
	err error
}

func (e *AuthError) Error() string {
	return e.err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.err
}

// NewAuthError wraps an error as a terminal authentication failure.
func NewAuthError(err error) error {
	return &AuthError{err: err}
}

// InvalidTransitionError reports a mutation intent whose local precondition
// does not hold. Rejected before any network call is made.
type InvalidTransitionError struct {
	// ID is the proposal the intent targeted.
	ID string

	// From is the proposal's status at validation time.
	From Status

	// Intent names the rejected intent ("approve", "reject", ...).
	Intent string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s proposal %s in status %s", e.Intent, e.ID, e.From)
}

// IsNetwork returns true if the error is a transient network failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsService returns true if the error is a non-2xx service error.
func IsService(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// IsAuth returns true if the error is a terminal authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsInvalidTransition returns true if the error is a local precondition
// violation.
func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}
