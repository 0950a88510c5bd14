// Package transport carries encoded envelopes across the boundary between native code and the host.
//
// A Transport only moves opaque byte slices. Inbound messages are handed to a Receiver (the RPC
// runtime) one at a time, in arrival order, from a single goroutine per transport:
//
//	peer ──bytes──→ recv loop ──HandleMessage──→ runtime
//	runtime ──Send──→ write lock ──bytes──→ peer
//
// Three implementations are provided: StreamTransport (framed byte streams such as TCP),
// WebSocketTransport (browser hosts) and Pipe (in-memory pairs).
package transport

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"bridge-rpc/codec"
)

// ErrClosed is reported once a transport has been closed, locally or by the peer.
var ErrClosed = errors.New("transport: closed")

// Receiver consumes inbound messages. HandleMessage is never called concurrently
// for the same transport; HandleClose is called once, after the last message.
type Receiver interface {
	HandleMessage(data []byte)
	HandleClose(err error)
}

// Transport is a message channel to the other side.
type Transport interface {
	// Start begins delivering inbound messages to r. It must be called once.
	Start(r Receiver)
	// Send delivers one encoded envelope. Safe for concurrent use.
	Send(data []byte) error
	// Close releases the channel; pending Sends fail with ErrClosed.
	Close() error
}

type options struct {
	log          *zap.Logger
	codec        codec.CodecType
	heartbeat    time.Duration
	writeTimeout time.Duration
}

func defaultOptions() options {
	return options{
		log:          zap.NewNop(),
		codec:        codec.CodecTypeJSON,
		heartbeat:    30 * time.Second,
		writeTimeout: 10 * time.Second,
	}
}

// Option configures a transport.
type Option func(*options)

// WithLogger sets the logger used for transport diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithCodec declares the codec of the bytes being carried. Stream transports
// stamp it into frame headers; WebSocket picks text or binary messages from it.
func WithCodec(ct codec.CodecType) Option {
	return func(o *options) { o.codec = ct }
}

// WithHeartbeat sets the keep-alive interval of stream transports. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithWriteTimeout bounds a single WebSocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
