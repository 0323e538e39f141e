// Package errors provides error wrapping utilities and the error taxonomy shared by the
// transport, engine and orchestration layers.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error.
type Kind int

const (
	// KindConfiguration covers missing credentials or an unusable target.
	KindConfiguration Kind = iota
	// KindTransport covers network faults and non-2xx HTTP responses.
	KindTransport
	// KindProtocol covers explicit failure responses from the device.
	KindProtocol
	// KindCancelled marks a cooperative cancellation.
	KindCancelled
	// KindCodec covers unsupported compression schemes.
	KindCodec
)

// String returns a human-readable name for the kind
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindTransport:
		return "transport error"
	case KindProtocol:
		return "protocol error"
	case KindCancelled:
		return "cancelled"
	case KindCodec:
		return "codec error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a classified error. StatusCode is only set for transport errors that
// carried an HTTP response.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigurationError reports missing or invalid configuration.
func NewConfigurationError(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// NewTransportError wraps a network level failure. A cause of context.Canceled is
// reported as a cancellation instead.
func NewTransportError(op string, err error) *Error {
	if stderrors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Op: op, Message: "operation cancelled", Err: err}
	}
	return &Error{Kind: KindTransport, Op: op, Message: "request failed", Err: err}
}

// NewCancelledError reports a cancellation observed at a checkpoint rather than on
// the wire.
func NewCancelledError(op string, err error) *Error {
	return &Error{Kind: KindCancelled, Op: op, Message: "operation cancelled", Err: err}
}

// NewHTTPError reports a non-2xx response.
func NewHTTPError(op string, statusCode int, body string) *Error {
	msg := fmt.Sprintf("unexpected status %d %s", statusCode, http.StatusText(statusCode))
	if body != "" {
		msg += ": " + body
	}
	return &Error{Kind: KindTransport, Op: op, Message: msg, StatusCode: statusCode}
}

// NewProtocolError reports an explicit rejection by the device. message is the device
// supplied text and may be empty.
func NewProtocolError(op, message string) *Error {
	return &Error{Kind: KindProtocol, Op: op, Message: message}
}

// NewCodecError reports an unsupported or failing compression scheme.
func NewCodecError(scheme string, err error) *Error {
	return &Error{Kind: KindCodec, Message: fmt.Sprintf("compression scheme %q", scheme), Err: err}
}

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// New is errors.New from the standard library.
func New(text string) error {
	return stderrors.New(text)
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// IsCancelled reports whether err stems from a cooperative cancellation.
func IsCancelled(err error) bool {
	return IsKind(err, KindCancelled) || stderrors.Is(err, context.Canceled)
}

// IsForbidden reports a 403 transport error (token lacks permission).
func IsForbidden(err error) bool {
	return statusCode(err) == http.StatusForbidden
}

// IsNotFound reports a 404 transport error (device disconnected or without OTA support).
func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

func statusCode(err error) int {
	var e *Error
	if !stderrors.As(err, &e) {
		return 0
	}
	return e.StatusCode
}
