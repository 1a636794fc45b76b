package contractnegotiation

import (
	"errors"

	"golang.org/x/xerrors"
)

var (
	// ErrNotFound means no negotiation matched the given identifier
	ErrNotFound = errors.New("negotiation not found")

	// ErrConcurrentModification means the stored record changed since it was read
	ErrConcurrentModification = errors.New("negotiation was modified concurrently")
)

// FatalError wraps an error that retrying can never fix
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError marks err as fatal
func NewFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Fatalf formats a fatal error
func Fatalf(format string, args ...interface{}) error {
	return &FatalError{Err: xerrors.Errorf(format, args...)}
}

// RejectedError is a fatal error from a peer that refused a message and
// declined the negotiation the message belongs to. The sender records the
// decline rather than a failure.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string {
	return e.Err.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// NewRejectedError marks err as the reason a message was refused and its negotiation declined
func NewRejectedError(err error) error {
	if err == nil {
		return nil
	}
	return &RejectedError{Err: err}
}

// Rejectedf formats a rejection
func Rejectedf(format string, args ...interface{}) error {
	return &RejectedError{Err: xerrors.Errorf(format, args...)}
}

// IsRejected reports whether err tells that the peer declined the negotiation
func IsRejected(err error) bool {
	var re *RejectedError
	return err != nil && errors.As(err, &re)
}

// IsFatal reports whether err must not be retried
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	if errors.As(err, &fe) || IsRejected(err) {
		return true
	}
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether err is a transient failure
func IsRetryable(err error) bool {
	return err != nil && !IsFatal(err)
}
