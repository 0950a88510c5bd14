package codec

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"bridge-rpc/message"
)

// Version is the only accepted value of the "jsonrpc" member.
const Version = "2.0"

// validate is shared by every JSONCodec; building a validator is expensive.
var validate = validator.New()

// JSONCodec speaks JSON-RPC 2.0:
//
//	{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}
//	{"jsonrpc":"2.0","result":3,"id":1}
//	{"jsonrpc":"2.0","error":{"code":-32601,"message":"UnknownMethod"},"id":1}
//
// Decode enforces the member rules of the JSON-RPC 2.0 specification: a message
// is exactly one of request, callback or error, never a mix.
type JSONCodec struct{}

type wireRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  []any       `json:"params,omitempty"`
	ID      *message.ID `json:"id,omitempty"`
}

type wireCallback struct {
	JSONRPC string     `json:"jsonrpc"`
	Result  any        `json:"result"`
	ID      message.ID `json:"id"`
}

type wireError struct {
	JSONRPC string         `json:"jsonrpc"`
	Error   *message.Error `json:"error"`
	ID      message.ID     `json:"id"`
}

// wireHeader and wireErrorObject are only used on the decode path, where
// presence of members matters.
type wireHeader struct {
	JSONRPC string `validate:"required,eq=2.0"`
}

type wireErrorObject struct {
	Code    *int            `json:"code" validate:"required"`
	Message *string         `json:"message" validate:"required"`
	Data    json.RawMessage `json:"data"`
}

func (c *JSONCodec) Encode(env *message.Envelope) ([]byte, error) {
	if err := checkEnvelope(env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	var v any
	switch env.Kind {
	case message.KindRequest:
		req := wireRequest{JSONRPC: Version, Method: env.Method, Params: env.Args}
		if !env.ID.IsAbsent() {
			id := env.ID
			req.ID = &id
		}
		v = req
	case message.KindCallback:
		v = wireCallback{JSONRPC: Version, Result: env.Result, ID: env.ID}
	case message.KindError:
		v = wireError{JSONRPC: Version, Error: env.Error, ID: env.ID}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte) (*message.Envelope, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, decodeErr("parse error: %v", err)
	}

	// Step 1: protocol version
	var header wireHeader
	if raw, ok := members["jsonrpc"]; ok {
		if err := json.Unmarshal(raw, &header.JSONRPC); err != nil {
			return nil, decodeErr("jsonrpc member must be a string")
		}
	}
	if err := validate.Struct(header); err != nil {
		return nil, decodeErr("jsonrpc member must be %q", Version)
	}

	rawMethod, hasMethod := members["method"]
	rawResult, hasResult := members["result"]
	rawError, hasError := members["error"]
	rawID, hasID := members["id"]

	var id message.ID
	if hasID {
		if err := json.Unmarshal(rawID, &id); err != nil {
			return nil, decodeErr("invalid id: %v", err)
		}
	}

	// Step 2: classify. Exactly one of method, result, error.
	switch {
	case hasMethod:
		if hasResult || hasError {
			return nil, decodeErr("request must not carry result or error")
		}
		return decodeRequest(id, rawMethod, members)
	case hasResult && hasError:
		return nil, decodeErr("reply must not carry both result and error")
	case !hasID && (hasResult || hasError):
		return nil, decodeErr("reply without id")
	case hasResult:
		var result any
		if err := json.Unmarshal(rawResult, &result); err != nil {
			return nil, decodeErr("invalid result: %v", err)
		}
		return message.NewCallback(id, result), nil
	case hasError:
		e, err := decodeErrorObject(rawError)
		if err != nil {
			return nil, err
		}
		return message.NewErrorReply(id, e), nil
	default:
		return nil, decodeErr("message is neither request, callback nor error")
	}
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

func decodeRequest(id message.ID, rawMethod json.RawMessage, members map[string]json.RawMessage) (*message.Envelope, error) {
	var method string
	if err := json.Unmarshal(rawMethod, &method); err != nil {
		return nil, decodeErr("method must be a string")
	}
	if method == "" {
		return nil, decodeErr("method must not be empty")
	}

	var args []any
	if rawParams, ok := members["params"]; ok {
		if err := json.Unmarshal(rawParams, &args); err != nil {
			return nil, decodeErr("params must be an array")
		}
	}

	return &message.Envelope{Kind: message.KindRequest, ID: id, Method: method, Args: args}, nil
}

func decodeErrorObject(raw json.RawMessage) (*message.Error, error) {
	var obj wireErrorObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, decodeErr("error member must be an object with integer code")
	}
	if err := validate.Struct(obj); err != nil {
		return nil, decodeErr("error object needs code and message: %v", err)
	}

	e := &message.Error{Code: *obj.Code, Message: *obj.Message}
	if len(obj.Data) > 0 {
		if err := json.Unmarshal(obj.Data, &e.Data); err != nil {
			return nil, decodeErr("invalid error data: %v", err)
		}
	}
	return e, nil
}

func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}
