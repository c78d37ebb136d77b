package ipc

import (
	"encoding/json"

	"github.com/rexliu/w3abridge/pkg/dispatch"
)

// ControlPrefix marks daemon control methods. Anything else is forwarded to
// the dispatcher as a channel command.
const ControlPrefix = "daemon."

// Protocol error codes. Channel command failures use the dispatch vocabulary.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeFrameTooLarge  = "FRAME_TOO_LARGE"
	CodeInternal       = "INTERNAL"
)

// Request models one framed call. Payload is the channel argument text; nil
// means absent. Params carries control method arguments.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Payload *string         `json:"payload,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response models one framed reply. Result is the channel success payload
// text, Data the control method result.
type Response struct {
	ID             string          `json:"id,omitempty"`
	OK             bool            `json:"ok"`
	Result         *string         `json:"result,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	NotImplemented bool            `json:"notImplemented,omitempty"`
	TraceID        string          `json:"traceId,omitempty"`
}

// Error follows the channel error envelope.
type Error struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Details != nil {
		return e.Code + ": " + e.Message + " (" + *e.Details + ")"
	}
	return e.Code + ": " + e.Message
}

// Errorf helps build protocol errors.
func Errorf(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// FromOutcome converts a dispatch outcome into a response for id.
func FromOutcome(id string, out dispatch.Outcome) Response {
	resp := Response{ID: id, TraceID: out.TraceID}
	switch {
	case out.NotImplemented:
		resp.NotImplemented = true
	case out.Err != nil:
		resp.Error = &Error{Code: string(out.Err.Code), Message: out.Err.Message, Details: out.Err.Details}
	default:
		resp.OK = true
		resp.Result = out.Payload
	}
	return resp
}
