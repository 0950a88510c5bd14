// Package message defines the logical envelope exchanged between native code and the script host.
//
// Envelope is the unit every transport carries. It gets serialized by the codec layer and, on
// stream transports, wrapped in a protocol frame:
//
//	Request  {id, method, args}  → invoke method on the receiving side
//	Callback {id, result}        → successful reply to a Request
//	Error    {id, error}         → failed reply to a Request
//
// A Request without an id is a notification and is never answered.
package message

import "fmt"

// Kind tags the envelope variant.
type Kind uint8

const (
	KindRequest  Kind = 0 // Invoke a method on the receiving side
	KindCallback Kind = 1 // Successful reply
	KindError    Kind = 2 // Failed reply
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindCallback:
		return "callback"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Envelope carries a single request, callback or error.
//
//   - Request:  Method is set, Args holds the ordered arguments, ID may be absent (notification).
//   - Callback: Result holds the return value (may be nil for a JSON null result).
//   - Error:    Error describes the failure; Error.Message is the reason text.
type Envelope struct {
	Kind   Kind
	ID     ID     // Correlation id; absent only on notifications
	Method string // Request only
	Args   []any  // Request only; values are bool, float64, string, []any, map[string]any or nil
	Result any    // Callback only
	Error  *Error // Error only
}

// NewRequest builds a request envelope carrying id.
func NewRequest(id ID, method string, args []any) *Envelope {
	return &Envelope{Kind: KindRequest, ID: id, Method: method, Args: args}
}

// NewNotification builds a request envelope without an id.
func NewNotification(method string, args []any) *Envelope {
	return &Envelope{Kind: KindRequest, Method: method, Args: args}
}

// NewCallback builds a successful reply for id.
func NewCallback(id ID, result any) *Envelope {
	return &Envelope{Kind: KindCallback, ID: id, Result: result}
}

// NewErrorReply builds a failed reply for id.
func NewErrorReply(id ID, e *Error) *Envelope {
	return &Envelope{Kind: KindError, ID: id, Error: e}
}

// IsNotification reports whether the envelope is a request that expects no reply.
func (e *Envelope) IsNotification() bool {
	return e.Kind == KindRequest && e.ID.IsAbsent()
}

func (e *Envelope) String() string {
	switch e.Kind {
	case KindRequest:
		return fmt.Sprintf("request{id:%s method:%s args:%d}", e.ID, e.Method, len(e.Args))
	case KindCallback:
		return fmt.Sprintf("callback{id:%s}", e.ID)
	case KindError:
		return fmt.Sprintf("error{id:%s reason:%s}", e.ID, e.Error.Reason())
	default:
		return e.Kind.String()
	}
}
