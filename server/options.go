package server

import (
	"time"

	"go.uber.org/zap"

	"bridge-rpc/codec"
	"bridge-rpc/discovery"
)

type options struct {
	log            *zap.Logger
	codec          codec.CodecType
	path           string
	originPatterns []string
	concurrency    int
	requestTimeout time.Duration
	heartbeat      time.Duration
	discovery      discovery.Registry
	serviceName    string
	ttl            int64
	onSession      func(*Session)
}

func defaultOptions() options {
	return options{
		log:         zap.NewNop(),
		codec:       codec.CodecTypeJSON,
		path:        "/rpc",
		concurrency: 64,
		heartbeat:   30 * time.Second,
		serviceName: discovery.DefaultService,
		ttl:         10,
	}
}

// Option configures a Server.
type Option func(*options)

func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithCodec sets the codec spoken on every connection.
func WithCodec(ct codec.CodecType) Option {
	return func(o *options) { o.codec = ct }
}

// WithPath sets the WebSocket endpoint path. Default "/rpc".
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithOriginPatterns allows browser hosts served from other origins to connect.
func WithOriginPatterns(patterns ...string) Option {
	return func(o *options) { o.originPatterns = patterns }
}

// WithConcurrency bounds the requests running at once on one connection. Default 64.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithRequestTimeout bounds server-initiated calls into a connected host.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithHeartbeat sets the keep-alive interval of TCP connections.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithDiscovery makes Announce register endpoints in reg under serviceName
// with a lease of ttl seconds.
func WithDiscovery(reg discovery.Registry, serviceName string, ttl int64) Option {
	return func(o *options) {
		o.discovery = reg
		if serviceName != "" {
			o.serviceName = serviceName
		}
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithSessionHook is called with every new session once its runtime is started.
// The hook may keep the session to call functors exposed by the connected host.
func WithSessionHook(fn func(*Session)) Option {
	return func(o *options) { o.onSession = fn }
}
