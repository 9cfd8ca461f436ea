// Package protocol defines the control-plane wire format: request/response
// frames exchanged over the WebSocket endpoint and the event frames pushed by
// the server. One JSON object per WebSocket text frame.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Request is a client-initiated frame. Type is one of the Method* constants.
type Request struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      string          `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers a Request. Type is "res:<method>" and ID echoes the
// request's ID. Err is set only when OK is false.
type Response struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	TS      string `json:"ts"`
	Payload any    `json:"payload"`
	OK      bool   `json:"ok"`
	Err     *Error `json:"err,omitempty"`
}

// EventFrame is a server-pushed frame. Type is "evt:<event type>".
type EventFrame struct {
	Type    string         `json:"type"`
	ID      string         `json:"id"`
	TS      string         `json:"ts"`
	Payload map[string]any `json:"payload"`
}

// Error is the structured error carried by failed responses.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Error codes used by the router. Handlers may add domain-specific codes but
// every failure maps to at least one of these.
const (
	CodeBadJSON      = "bad_json"
	CodeBadRequest   = "bad_request"
	CodeNoSuchMethod = "no_such_method"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal"
)

// BadRequest builds a bad_request error.
func BadRequest(msg string) *Error { return &Error{Code: CodeBadRequest, Message: msg} }

// Timestamp returns the wire representation of t.
func Timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// NewResponse builds a successful response for the given method and request id.
func NewResponse(method, id string, payload any) Response {
	return Response{
		Type:    "res:" + method,
		ID:      id,
		TS:      Timestamp(time.Now()),
		Payload: payload,
		OK:      true,
	}
}

// NewErrorResponse builds a failed response. An empty id is replaced with a
// fresh one so clients can always correlate something.
func NewErrorResponse(method, id string, perr *Error) Response {
	if id == "" {
		id = uuid.NewString()
	}
	return Response{
		Type:    "res:" + method,
		ID:      id,
		TS:      Timestamp(time.Now()),
		Payload: map[string]any{},
		OK:      false,
		Err:     perr,
	}
}

// NewRequest builds a request frame with a fresh id.
func NewRequest(method string, payload any) (Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Type:    method,
		ID:      uuid.NewString(),
		TS:      Timestamp(time.Now()),
		Payload: raw,
	}, nil
}
