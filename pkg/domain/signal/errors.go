package signal

import "errors"

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

// SignalError is a typed error for the signal domain.
type SignalError string

func (e SignalError) Error() string { return string(e) }

const (
	ErrNotFound          SignalError = "record not found"
	ErrDuplicateKey      SignalError = "record already exists for source message"
	ErrInvalidTransition SignalError = "invalid status transition"
	ErrPublishFailure    SignalError = "publish failed"
)

// IsDuplicate reports whether err is (or wraps) ErrDuplicateKey.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
