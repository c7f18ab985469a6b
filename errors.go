package fetchkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("fetchkit: circuit open")

	// ErrRateLimited is returned when waiting for a rate limit token would
	// outlast the request context
	ErrRateLimited = errors.New("fetchkit: rate limited")

	// ErrMergeSequence is returned by Merge when a top-level argument is a slice
	ErrMergeSequence = errors.New("fetchkit: cannot merge a sequence at the top level")
)

// ErrorType classifies an Error.
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "NetworkError"
	ErrorTypeHTTP        ErrorType = "HTTPError"
	ErrorTypeTimeout     ErrorType = "TimeoutError"
	ErrorTypeRateLimit   ErrorType = "RateLimitError"
	ErrorTypeCircuitOpen ErrorType = "CircuitOpenError"
	ErrorTypeValidation  ErrorType = "ValidationError"
)

// Error is a failed call. Response is set when the server answered with an
// error status.
type Error struct {
	Type      ErrorType
	Message   string
	Config    *Config
	Response  *Response
	Cause     error
	RequestID string
}

// Error implements error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		return e.Type == t.Type
	}
	return false
}

// Status returns the HTTP status of the attached response, or 0.
func (e *Error) Status() int {
	if e == nil || e.Response == nil {
		return 0
	}
	return e.Response.Status
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *Error) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Config != nil {
		info += fmt.Sprintf("Method: %s\n", e.Config.Method)
		info += fmt.Sprintf("URL: %s\n", e.Config.FullURL())
	}
	if e.Response != nil {
		info += fmt.Sprintf("Status Code: %d\n", e.Response.Status)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// TimeoutError is raised when a request's Timeout elapses.
type TimeoutError struct {
	Timeout time.Duration
	Err     *Error
}

// NewTimeoutError builds the error a call fails with when d elapses.
func NewTimeoutError(cfg *Config, d time.Duration) *TimeoutError {
	return &TimeoutError{
		Timeout: d,
		Err: &Error{
			Type:      ErrorTypeTimeout,
			Message:   fmt.Sprintf("timeout of %dms exceeded", d.Milliseconds()),
			Config:    cfg,
			RequestID: cfg.RequestID(),
		},
	}
}

func (e *TimeoutError) Error() string { return e.Err.Error() }

// Unwrap exposes the underlying *Error.
func (e *TimeoutError) Unwrap() error { return e.Err }

// NewNetworkError wraps a transport failure. There is no response.
func NewNetworkError(cfg *Config, cause error) *Error {
	return &Error{
		Type:      ErrorTypeNetwork,
		Message:   "network error",
		Config:    cfg,
		Cause:     cause,
		RequestID: cfg.RequestID(),
	}
}

// NewHTTPError reports a response whose status is outside 2xx/3xx.
func NewHTTPError(cfg *Config, resp *Response) *Error {
	return &Error{
		Type:      ErrorTypeHTTP,
		Message:   fmt.Sprintf("request failed with status code %d", resp.Status),
		Config:    cfg,
		Response:  resp,
		RequestID: cfg.RequestID(),
	}
}

// AsError extracts the *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	if e, ok := AsError(err); ok && e.Type == ErrorTypeTimeout {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsHTTPStatus reports whether err carries a response with the given status.
func IsHTTPStatus(err error, status int) bool {
	e, ok := AsError(err)
	return ok && e.Status() == status
}

// IsTransient determines if an error represents a transient failure that might succeed on retry.
// Returns true for network errors, timeouts, 5xx responses, 408 and 429.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) {
		return true
	}

	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
		return true
	case ErrorTypeHTTP:
		s := e.Status()
		return s >= 500 || s == http.StatusTooManyRequests || s == http.StatusRequestTimeout
	default:
		return false
	}
}

// interceptedError is a failure the response interceptors have already
// seen. Plugins sharing it with other calls keep the marker, and the client
// strips it before the error reaches a caller.
type interceptedError struct {
	err error
}

func (e *interceptedError) Error() string { return e.err.Error() }

func (e *interceptedError) Unwrap() error { return e.err }

func markIntercepted(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*interceptedError); ok {
		return err
	}
	return &interceptedError{err: err}
}

func unwrapIntercepted(err error) error {
	if ie, ok := err.(*interceptedError); ok {
		return ie.err
	}
	return err
}
