package cdp

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by operations on a connection that has reached StateClosed.
var ErrClosed = errors.New("devtools connection is closed")

// ConfigurationError reports that no devtools socket namespace could be determined.
// It is returned before any socket I/O is attempted.
type ConfigurationError struct {
	Namespace Namespace
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("devtools started unexpectedly: no socket namespace for mode %q", e.Namespace)
}

// ConnectionError reports that the socket could not be opened at any candidate address.
type ConnectionError struct {
	Addresses []string
	Err       error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to devtools socket (tried %s): %v", strings.Join(e.Addresses, ", "), e.Err)
}

// Unwrap returns the error from the last attempted address.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a received frame outside the accepted subset:
// anything but a final text frame, an invalid length byte, or a truncated payload.
type ProtocolError struct {
	Reason string
	// Byte is the offending header byte, or -1 when none applies.
	Byte int
	Err  error
}

func newProtocolError(reason string, b int, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Byte: b, Err: err}
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := "websocket protocol error: " + e.Reason
	if e.Byte >= 0 {
		msg += fmt.Sprintf(" (byte 0x%02x)", e.Byte)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying read error, if any.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// SerializationError reports JSON that could not be produced (send path)
// or parsed (listen path).
type SerializationError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying encoding error.
func (e *SerializationError) Unwrap() error {
	return e.Err
}
