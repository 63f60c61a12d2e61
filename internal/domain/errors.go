package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents an RPC or transport error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "submit", "call", "filter")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// RevertError represents an on-chain revert. The attempt is dead; the reason
// string is surfaced verbatim when the node provided one.
type RevertError struct {
	Op     string
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return e.Op + ": transaction reverted"
	}
	return e.Op + ": reverted: " + e.Reason
}

func (e *RevertError) IsRetriable() bool {
	return false
}

// ValidationError is a local, step-blocking input problem. It never reaches
// the network and never discards already-collected user input.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Msg
}

func (e *ValidationError) IsRetriable() bool {
	return false
}

// NewValidationError creates a step-blocking validation error
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

var (
	// ErrMarketNotFound is returned when a market id is unknown or inactive
	ErrMarketNotFound = errors.New("market not found")

	// ErrInvalidTransition is returned on a disallowed action state change
	ErrInvalidTransition = errors.New("invalid action state transition")

	// ErrTrackerBusy is returned when a tracking session is already active
	// for the account. Sessions are rejected, never queued.
	ErrTrackerBusy = errors.New("tracking session already active")

	// ErrActionInFlight is returned when a second commit is attempted while
	// a pending action exists for the account
	ErrActionInFlight = errors.New("pending action already in flight")

	// ErrTrackingStopped is returned when a session is cancelled before an
	// outcome was reached
	ErrTrackingStopped = errors.New("tracking stopped")

	// ErrApprovalTimeout is returned when a submitted approval never became
	// visible in the allowance within the wait budget
	ErrApprovalTimeout = errors.New("approval confirmation timed out")

	// ErrConfirmationTimeout is returned when no matching event appeared
	// within the tracking timeout. The action may still land; tracking can
	// be resumed without resubmitting.
	ErrConfirmationTimeout = errors.New("confirmation tracking timed out")
)
