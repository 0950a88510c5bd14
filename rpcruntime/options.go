package rpcruntime

import (
	"time"

	"go.uber.org/zap"

	"bridge-rpc/codec"
	"bridge-rpc/message"
	"bridge-rpc/middleware"
)

// UnhandledRequestPolicy decides what happens to an inbound request when no
// functor registry is attached to the runtime.
type UnhandledRequestPolicy int

const (
	// IgnoreUnhandled drops the request without replying. The runtime then
	// behaves as a pure outbound caller.
	IgnoreUnhandled UnhandledRequestPolicy = iota
	// RejectUnhandled answers every request with an UnknownMethod error.
	RejectUnhandled
)

func (p UnhandledRequestPolicy) String() string {
	switch p {
	case IgnoreUnhandled:
		return "ignore"
	case RejectUnhandled:
		return "reject"
	default:
		return "unknown"
	}
}

type options struct {
	codec       codec.Codec
	log         *zap.Logger
	unhandled   UnhandledRequestPolicy
	timeout     time.Duration
	middlewares []middleware.Middleware
	onOrphan    func(*message.Envelope)
	concurrency int
}

// Option configures a Runtime.
type Option func(*options)

// WithCodec selects the envelope codec. Both sides of a transport must agree. Default JSON.
func WithCodec(ct codec.CodecType) Option {
	return func(o *options) { o.codec = codec.GetCodec(ct) }
}

// WithLogger sets the logger for dispatch diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithUnhandledRequestPolicy sets the policy for requests arriving while no registry is attached.
func WithUnhandledRequestPolicy(p UnhandledRequestPolicy) Option {
	return func(o *options) { o.unhandled = p }
}

// WithRequestTimeout fails outbound requests with ErrTimeout when no reply
// arrives within d. Zero, the default, waits forever.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMiddleware wraps inbound dispatch. Middlewares apply in the given order.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithOrphanHandler is called with every reply whose id has no pending request.
func WithOrphanHandler(fn func(*message.Envelope)) Option {
	return func(o *options) { o.onOrphan = fn }
}

// WithConcurrency lets up to n inbound requests run at once, each on its own
// goroutine. With the default of 0 requests run inline on the transport's
// receive goroutine, in arrival order.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}
