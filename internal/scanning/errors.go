package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies why an extraction failed
type ErrorKind string

const (
	// KindEncoding means the input media was empty or unreadable. Not retried.
	KindEncoding ErrorKind = "encoding"
	// KindTransient covers network failures, timeouts, cancellation and rate limits.
	KindTransient ErrorKind = "transient"
	// KindInvalidResponse means the model output could not be read as a record.
	KindInvalidResponse ErrorKind = "invalid_response"
	// KindAuth means the model credentials or configuration were rejected.
	KindAuth ErrorKind = "auth"
)

// Error is a failed extraction stage
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// EncodingError wraps err as an encoding failure
func EncodingError(op string, err error) error {
	return newError(KindEncoding, op, err)
}

// TransientError wraps err as a transient failure
func TransientError(op string, err error) error {
	return newError(KindTransient, op, err)
}

// InvalidResponseError wraps err as an unusable model response
func InvalidResponseError(op string, err error) error {
	return newError(KindInvalidResponse, op, err)
}

// AuthError wraps err as a credential failure
func AuthError(op string, err error) error {
	return newError(KindAuth, op, err)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether err may succeed on retry
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsAuth reports whether err is a credential failure
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

// kindForStatus maps a provider HTTP status code to an error kind
func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return KindTransient
	case code >= 500:
		return KindTransient
	default:
		return KindInvalidResponse
	}
}

// classifyCallError wraps an error returned by a model call. Errors that are
// already classified pass through unchanged.
func classifyCallError(op string, err error, status int) error {
	if KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TransientError(op, err)
	}
	if status != 0 {
		return newError(kindForStatus(status), op, err)
	}
	// No status means no response arrived (dial, TLS, reset)
	return TransientError(op, err)
}
