// Package client connects native code to a bridge server found through discovery.
//
//	Call → connected? ──no──→ Discover → Balancer.Pick(client id) → dial ws/tcp → Runtime
//	     └────────────yes──→ Runtime.Call → reply decoded into the caller's value
//
// The connection is bidirectional: functors in the client's own registry can be called by
// the server. A dropped connection is re-established on the next call.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bridge-rpc/codec"
	"bridge-rpc/discovery"
	"bridge-rpc/functor"
	"bridge-rpc/loadbalance"
	"bridge-rpc/rpcruntime"
	"bridge-rpc/transport"
)

type options struct {
	log         *zap.Logger
	service     string
	id          string
	registry    *functor.Registry
	timeout     time.Duration
	dialTimeout time.Duration
}

// Option configures a Client.
type Option func(*options)

func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithService sets the discovery service name. Default discovery.DefaultService.
func WithService(name string) Option {
	return func(o *options) { o.service = name }
}

// WithID sets the client id used as the balancer key. Default a random UUID.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithRegistry exposes reg to the server over the same connection.
func WithRegistry(reg *functor.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithRequestTimeout bounds every call made through the client.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithDialTimeout bounds connection establishment. Default 5s.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// Client calls functors on a bridge server.
type Client struct {
	discovery discovery.Registry
	balancer  loadbalance.Balancer
	opts      options
	log       *zap.Logger

	mu       sync.Mutex
	rt       *rpcruntime.Runtime
	endpoint discovery.ServiceInstance
}

// NewClient creates a client. No connection is made until the first call.
func NewClient(reg discovery.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	o := options{
		log:         zap.NewNop(),
		service:     discovery.DefaultService,
		id:          uuid.NewString(),
		dialTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		discovery: reg,
		balancer:  bal,
		opts:      o,
		log:       o.log.With(zap.String("client", o.id)),
	}
}

// ID returns the client id.
func (c *Client) ID() string { return c.opts.id }

// Endpoint returns the instance of the current connection, if any.
func (c *Client) Endpoint() (discovery.ServiceInstance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint, c.rt != nil
}

// runtime returns the live runtime, connecting first when needed.
func (c *Client) runtime(ctx context.Context) (*rpcruntime.Runtime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rt != nil {
		select {
		case <-c.rt.Done():
			c.log.Info("connection lost, reconnecting", zap.String("addr", c.endpoint.Addr))
			c.rt = nil
		default:
			return c.rt, nil
		}
	}

	instances, err := c.discovery.Discover(ctx, c.opts.service)
	if err != nil {
		return nil, fmt.Errorf("client: discover %s: %w", c.opts.service, err)
	}
	instance, err := c.balancer.Pick(c.opts.id, instances)
	if err != nil {
		return nil, fmt.Errorf("client: pick %s: %w", c.opts.service, err)
	}

	rt, err := c.dial(ctx, *instance)
	if err != nil {
		return nil, err
	}
	c.rt = rt
	c.endpoint = *instance
	c.log.Info("connected", zap.String("addr", instance.Addr), zap.String("balancer", c.balancer.Name()))
	return rt, nil
}

func (c *Client) dial(ctx context.Context, instance discovery.ServiceInstance) (*rpcruntime.Runtime, error) {
	ct, err := codec.ParseCodecType(instance.Codec)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.dialTimeout)
	defer cancel()

	var t transport.Transport
	switch instance.Transport {
	case discovery.TransportWebSocket, "":
		t, err = transport.DialWebSocket(ctx, instance.Addr, transport.WithCodec(ct), transport.WithLogger(c.log))
	case discovery.TransportTCP:
		var d net.Dialer
		var conn net.Conn
		conn, err = d.DialContext(ctx, "tcp", instance.Addr)
		if err == nil {
			t = transport.NewStreamTransport(conn, transport.WithCodec(ct), transport.WithLogger(c.log))
		}
	default:
		return nil, fmt.Errorf("client: unsupported transport %q", instance.Transport)
	}
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", instance.Addr, err)
	}

	rt := rpcruntime.New(t, c.opts.registry,
		rpcruntime.WithCodec(ct),
		rpcruntime.WithLogger(c.log),
		rpcruntime.WithRequestTimeout(c.opts.timeout),
		rpcruntime.WithConcurrency(16),
		rpcruntime.WithUnhandledRequestPolicy(rpcruntime.RejectUnhandled))
	rt.Start()
	return rt, nil
}

// Call invokes method with args and decodes the result into reply, which may be
// nil to discard it. Remote failures are returned as *message.Error.
func (c *Client) Call(ctx context.Context, method string, args []any, reply any) error {
	rt, err := c.runtime(ctx)
	if err != nil {
		return err
	}
	result, err := rt.Call(ctx, method, args)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, reply)
}

// Notify invokes method without waiting for, or receiving, a reply.
func (c *Client) Notify(ctx context.Context, method string, args []any) error {
	rt, err := c.runtime(ctx)
	if err != nil {
		return err
	}
	return rt.Notify(method, args)
}

// Close drops the connection. The client reconnects if used again.
func (c *Client) Close() error {
	c.mu.Lock()
	rt := c.rt
	c.rt = nil
	c.mu.Unlock()

	if rt == nil {
		return nil
	}
	return rt.Close()
}
