package transport

import (
	"errors"
	"fmt"
)

// Network error codes.
const (
	CodeConnectionClosed = 100
	CodeTunnelFailed     = 111
)

// Redirect error codes.
const (
	CodeInvalidLocation = 302
	CodeRedirectLoop    = 310
)

const (
	msgConnectionClosed = "Connection closed without receiving any data"
	msgTunnelFailed     = "A tunnel connection through the proxy could not be established."
	msgTimeout          = "Connection timeout."
	msgInvalidLocation  = "The response has an invalid redirect location."
	msgRedirectLoop     = "Too many redirects or a redirect loop detected."
)

// NetworkError is a connection level failure.
type NetworkError struct {
	Message string
	Code    int
	Err     error
}

func (e *NetworkError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	return msg
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ErrTimeout is wrapped by the NetworkError reported when the connection
// stays idle longer than the configured timeout.
var ErrTimeout = errors.New("timeout")

// NewTimeoutError reports an idle timeout.
func NewTimeoutError() *NetworkError {
	return &NetworkError{Message: msgTimeout, Err: ErrTimeout}
}

// NewClosedError reports a connection closed before any response.
func NewClosedError() *NetworkError {
	return &NetworkError{Message: msgConnectionClosed, Code: CodeConnectionClosed}
}

// NewTunnelError reports a CONNECT the proxy refused.
func NewTunnelError(status int) *NetworkError {
	return &NetworkError{
		Message: msgTunnelFailed,
		Code:    CodeTunnelFailed,
		Err:     fmt.Errorf("proxy responded with status %d", status),
	}
}

// ProtocolError is a malformed response.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Message
}

// RedirectError is a redirect that cannot be followed.
type RedirectError struct {
	Message  string
	Code     int
	Location string
}

func (e *RedirectError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%s (code %d, location %q)", e.Message, e.Code, e.Location)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// DecompressionError is a response body that failed to decode.
type DecompressionError struct {
	Encoding string
	Err      error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("failed to decode %s response body: %v", e.Encoding, e.Err)
}

func (e *DecompressionError) Unwrap() error {
	return e.Err
}
