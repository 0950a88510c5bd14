// Package protocol implements the binary frame protocol used by stream transports.
//
// A byte stream (TCP, pipes, stdio) has no message boundaries, so every encoded envelope
// travels in a frame: a fixed 14-byte header followed by a variable-length body. The
// receiver reads the header first to learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ brp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// seq is the per-stream frame counter. It is not the envelope correlation id (that lives inside
// the body); receivers use it to detect lost or reordered frames.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Version    byte   = 0x01
	HeaderSize int    = 14       // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)
	MaxBodyLen uint32 = 16 << 20 // Frames above 16 MiB are rejected before allocating
)

// Magic opens every frame: "brp" (bridge rpc protocol). A stream that does not start
// with it, say an HTTP client on the wrong port, is rejected at the first frame.
var Magic = [3]byte{'b', 'r', 'p'}

var (
	// ErrInvalidFrame is wrapped by every error reporting a malformed header.
	ErrInvalidFrame = errors.New("protocol: invalid frame")
	// ErrFrameTooLarge is returned for bodies above MaxBodyLen, on either side.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

// MsgType distinguishes envelope and heartbeat frames.
type MsgType byte

const (
	MsgTypeEnvelope  MsgType = 0 // Body is one encoded envelope
	MsgTypeHeartbeat MsgType = 1 // KeepAlive probe (no body)
)

func (t MsgType) valid() bool {
	return t == MsgTypeEnvelope || t == MsgTypeHeartbeat
}

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // Serialization format of the body: 0=JSON, 1=Binary
	MsgType   MsgType // Envelope or Heartbeat
	Seq       uint32  // Per-stream frame sequence number
	BodyLen   uint32  // Body length in bytes
}

func (h *Header) put(buf []byte) {
	copy(buf[0:3], Magic[:])
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)
}

func parseHeader(buf []byte) (*Header, error) {
	switch {
	case [3]byte(buf[0:3]) != Magic:
		return nil, fmt.Errorf("%w: magic %x", ErrInvalidFrame, buf[0:3])
	case buf[3] != Version:
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFrame, buf[3])
	case buf[4] != CodecTypeJSON && buf[4] != CodecTypeBinary:
		return nil, fmt.Errorf("%w: unsupported codec type %d", ErrInvalidFrame, buf[4])
	case !MsgType(buf[5]).valid():
		return nil, fmt.Errorf("%w: unsupported message type %d", ErrInvalidFrame, buf[5])
	}

	h := &Header{
		CodecType: buf[4],
		MsgType:   MsgType(buf[5]),
		Seq:       binary.BigEndian.Uint32(buf[6:10]),
		BodyLen:   binary.BigEndian.Uint32(buf[10:14]),
	}
	if h.BodyLen > MaxBodyLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, h.BodyLen)
	}
	return h, nil
}

// Encode writes a complete frame (header + body) to w. h.BodyLen must equal len(body).
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different senders will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) != h.BodyLen {
		return fmt.Errorf("protocol: body length %d does not match header %d", len(body), h.BodyLen)
	}
	if h.BodyLen > MaxBodyLen {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, h.BodyLen)
	}

	frame := make([]byte, HeaderSize+len(body))
	h.put(frame)
	copy(frame[HeaderSize:], body)

	// One Write call per frame so a net.Conn never sees half a frame from us
	_, err := w.Write(frame)
	return err
}

// Decode reads a complete frame (header + body) from r. Read errors, io.EOF included,
// are returned as is.
func Decode(r io.Reader) (*Header, []byte, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, nil, err
	}
	h, err := parseHeader(buf[:])
	if err != nil {
		return nil, nil, err
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}
