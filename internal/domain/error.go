package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Code redemption (always surfaced to the requesting user, never retried)
	ErrInvalidCodeFormat = errors.New("access code must be exactly 7 digits")
	ErrCodeNotFound      = errors.New("access code not found")
	ErrCodeAlreadyUsed   = errors.New("access code already used")

	ErrCodeNotReserved      = errors.New("access code is not reserved")
	ErrNoGrant              = errors.New("no validated code pending for user")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrCodeSpaceExhausted   = errors.New("could not allocate a unique access code")
	ErrUnknownChannel       = errors.New("channel is not mapped to a plan")
	ErrLockHeld             = errors.New("lock is held by another owner")
	ErrRateLimited          = errors.New("too many attempts")
)

// IsValidation reports whether err is one of the redemption errors that are shown to the user verbatim.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidCodeFormat) ||
		errors.Is(err, ErrCodeNotFound) ||
		errors.Is(err, ErrCodeAlreadyUsed)
}

// FailureKind classifies an outbound messaging-platform failure.
type FailureKind string

const (
	// FailureTransient covers network errors, timeouts, 5xx and flood waits. Retried.
	FailureTransient FailureKind = "transient"
	// FailureFatal means the platform rejected our credential. Stops the transport.
	FailureFatal FailureKind = "fatal"
	// FailureConflict means another instance is polling with the same token. Stops the transport.
	FailureConflict FailureKind = "conflict"
	// FailureRejected is a request the platform refused for this call only (bad user, missing rights).
	FailureRejected FailureKind = "rejected"
	// FailureStopped is returned without calling out once the transport is stopped.
	FailureStopped FailureKind = "stopped"
)

// Sentinels matched by TransportError.Is so callers can use errors.Is.
var (
	ErrTransportTransient = errors.New("transport: transient failure")
	ErrTransportFatal     = errors.New("transport: fatal failure")
	ErrTransportConflict  = errors.New("transport: conflicting instance")
	ErrTransportRejected  = errors.New("transport: request rejected")
	ErrTransportStopped   = errors.New("transport: stopped")
)

// TransportError wraps a failed platform call with its classification.
type TransportError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func NewTransportError(kind FailureKind, op string, err error) *TransportError {
	return &TransportError{Kind: kind, Op: op, Err: err}
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrTransportTransient:
		return e.Kind == FailureTransient
	case ErrTransportFatal:
		return e.Kind == FailureFatal
	case ErrTransportConflict:
		return e.Kind == FailureConflict
	case ErrTransportRejected:
		return e.Kind == FailureRejected
	case ErrTransportStopped:
		return e.Kind == FailureStopped
	}
	return false
}

// KindOf extracts the failure kind from err. Errors that are not TransportErrors
// are treated as transient.
func KindOf(err error) FailureKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return FailureTransient
}
