package coordinator

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable identifier a caller maps to a user-facing message.
type ErrorCode string

const (
	// Business outcomes, returned as-is and never retried
	CodeDuplicateTrack      ErrorCode = "DUPLICATE_TRACK"
	CodeQuotaExceeded       ErrorCode = "QUOTA_EXCEEDED"
	CodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	CodeNoTrackAvailable    ErrorCode = "NO_TRACK_AVAILABLE"
	CodeInvalidRequest      ErrorCode = "INVALID_REQUEST"

	// Infrastructure failures that survived their retries
	CodePointsServiceUnavailable ErrorCode = "POINTS_SERVICE_UNAVAILABLE"
	CodeQueueStoreUnavailable    ErrorCode = "QUEUE_STORE_UNAVAILABLE"

	// Compensation could not finish; the journal holds the remaining work
	CodeCompensationFailed ErrorCode = "COMPENSATION_FAILED"
)

// QueueError is returned by every coordinator operation that fails for a
// reason the caller can act on.
type QueueError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *QueueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a new attempt may succeed later. The retry must
// carry a fresh request id; a request id that already charged is settled.
func (e *QueueError) Retryable() bool {
	switch e.Code {
	case CodePointsServiceUnavailable, CodeQueueStoreUnavailable:
		return true
	}
	return false
}

func newError(code ErrorCode, message string, err error) *QueueError {
	return &QueueError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first QueueError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var qe *QueueError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
