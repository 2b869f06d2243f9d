package cdp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Request represents a CDP command request.
type Request struct {
	ID        int64  `json:"id"`
	Method    string `json:"method"`
	Params    any    `json:"params"`
	SessionID string `json:"sessionId,omitempty"`
}

// Error represents a CDP protocol error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("cdp error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// Message is one inbound CDP message: a response ({id, result|error})
// or an event ({method, params}). Raw holds the payload exactly as received.
type Message struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *Error          `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// IsResponse reports whether the message answers a command.
func (m Message) IsResponse() bool {
	return m.ID != 0
}

// IsEvent reports whether the message is an unsolicited event.
func (m Message) IsEvent() bool {
	return m.ID == 0 && m.Method != ""
}

var errNotObject = errors.New("payload is not a JSON object")

// parseMessage decodes a frame payload. The payload must be a JSON object;
// its shape is not otherwise enforced.
func parseMessage(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, &SerializationError{Op: "parse CDP message", Err: errNotObject}
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Message{}, &SerializationError{Op: "parse CDP message", Err: err}
	}
	msg.Raw = json.RawMessage(trimmed)
	return msg, nil
}
