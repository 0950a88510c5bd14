package message

import "fmt"

// Error codes carried in Error replies. The negative range follows JSON-RPC 2.0.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeHandlerError   = -32000 // A registered functor returned an error
	CodeTimeout        = -32001 // The local side gave up waiting
	CodeRateLimited    = -32002
	CodeTemporary      = -32003 // Functor failure that may succeed when retried
)

// Reasons used as Error.Message for protocol level failures.
const (
	ReasonUnknownMethod = "UnknownMethod"
	ReasonTimeout       = "Timeout"
	ReasonRateLimited   = "RateLimited"
	ReasonInternal      = "InternalError"
)

// Error is the reason part of an Error envelope.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewError builds an Error with the given code and reason.
func NewError(code int, reason string) *Error {
	return &Error{Code: code, Message: reason}
}

// Reason returns the error description, tolerating a nil receiver.
func (e *Error) Reason() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
