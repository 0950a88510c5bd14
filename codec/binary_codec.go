package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"bridge-rpc/message"
)

// id tags in the binary layout
const (
	binIDAbsent byte = 0
	binIDNull   byte = 1
	binIDNumber byte = 2
	binIDString byte = 3
)

// BinaryCodec lays an envelope out as:
//
//	kind(1) | idTag(1) | id(0, 8 or 2+n) | methodLen(2) | method | bodyLen(4) | body
//
// body is the JSON encoding of args (request), result (callback) or the error object.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(env *message.Envelope) ([]byte, error) {
	if err := checkEnvelope(env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(env.Method) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: method name too long", ErrEncode)
	}

	var (
		body []byte
		err  error
	)
	switch env.Kind {
	case message.KindRequest:
		if env.Args != nil {
			body, err = json.Marshal(env.Args)
		}
	case message.KindCallback:
		body, err = json.Marshal(env.Result)
	case message.KindError:
		body, err = json.Marshal(env.Error)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	buf := make([]byte, 0, 2+10+2+len(env.Method)+4+len(body))
	buf = append(buf, byte(env.Kind))

	// id
	switch {
	case env.ID.IsAbsent():
		buf = append(buf, binIDAbsent)
	case env.ID.IsNull():
		buf = append(buf, binIDNull)
	default:
		if n, ok := env.ID.Number(); ok {
			buf = append(buf, binIDNumber)
			buf = binary.BigEndian.AppendUint64(buf, uint64(n))
		} else {
			s, _ := env.ID.Str()
			if len(s) > math.MaxUint16 {
				return nil, fmt.Errorf("%w: id too long", ErrEncode)
			}
			buf = append(buf, binIDString)
			buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
			buf = append(buf, s...)
		}
	}

	// method -- 2 bytes length + n bytes
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.Method)))
	buf = append(buf, env.Method...)

	// body -- 4 bytes length + n bytes
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
	buf = append(buf, body...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte) (*message.Envelope, error) {
	r := binReader{data: data}

	env := &message.Envelope{Kind: message.Kind(r.byte())}
	switch r.byte() {
	case binIDAbsent:
	case binIDNull:
		env.ID = message.NullID
	case binIDNumber:
		env.ID = message.NumberID(int64(r.uint64()))
	case binIDString:
		env.ID = message.StringID(string(r.next(int(r.uint16()))))
	default:
		if r.err == nil {
			r.err = errors.New("unknown id tag")
		}
	}
	env.Method = string(r.next(int(r.uint16())))
	body := r.next(int(r.uint32()))
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, r.err)
	}
	if r.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDecode, len(data)-r.off)
	}

	var err error
	switch env.Kind {
	case message.KindRequest:
		if len(body) > 0 {
			err = json.Unmarshal(body, &env.Args)
		}
	case message.KindCallback:
		err = json.Unmarshal(body, &env.Result)
	case message.KindError:
		env.Error = &message.Error{}
		err = json.Unmarshal(body, env.Error)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := checkEnvelope(env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return env, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// binReader reads big-endian fields and remembers the first short read.
type binReader struct {
	data []byte
	off  int
	err  error
}

func (r *binReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = fmt.Errorf("short buffer at offset %d", r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *binReader) byte() byte {
	if b := r.next(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *binReader) uint16() uint16 {
	if b := r.next(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *binReader) uint32() uint32 {
	if b := r.next(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *binReader) uint64() uint64 {
	if b := r.next(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}
