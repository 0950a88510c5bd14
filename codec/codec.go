// Package codec converts between the logical message.Envelope and wire bytes.
//
// Two codecs are provided:
//   - JSONCodec:   JSON-RPC 2.0 text, the format script hosts speak natively.
//   - BinaryCodec: length-prefixed fields for native-to-native links; values are still JSON inside.
package codec

import (
	"errors"

	"bridge-rpc/message"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// ErrDecode is wrapped by every error a codec returns from Decode.
var ErrDecode = errors.New("codec: cannot decode envelope")

// ErrEncode is wrapped by every error a codec returns from Encode.
var ErrEncode = errors.New("codec: cannot encode envelope")

type Codec interface {
	Encode(env *message.Envelope) ([]byte, error)
	Decode(data []byte) (*message.Envelope, error)
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

// ParseCodecType maps a configuration name ("json", "binary") to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	default:
		return 0, errors.New("codec: unknown codec " + name)
	}
}

func (t CodecType) String() string {
	if t == CodecTypeJSON {
		return "json"
	}
	return "binary"
}

// checkEnvelope rejects envelopes no peer could make sense of.
func checkEnvelope(env *message.Envelope) error {
	switch env.Kind {
	case message.KindRequest:
		if env.Method == "" {
			return errors.New("request without method")
		}
	case message.KindCallback:
		if env.ID.IsAbsent() {
			return errors.New("callback without id")
		}
	case message.KindError:
		if env.ID.IsAbsent() {
			return errors.New("error without id")
		}
		if env.Error == nil {
			return errors.New("error envelope without error object")
		}
	default:
		return errors.New("unknown envelope kind " + env.Kind.String())
	}
	return nil
}
