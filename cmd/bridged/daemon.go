package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"bridge-rpc/codec"
	"bridge-rpc/config"
	"bridge-rpc/discovery"
	"bridge-rpc/functor"
	"bridge-rpc/jshost"
	"bridge-rpc/middleware"
	"bridge-rpc/server"
)

// daemon wires one server, its listeners, discovery and the optional script host.
type daemon struct {
	cfg       *config.Config
	log       *zap.Logger
	registry  *functor.Registry
	server    *server.Server
	discovery discovery.Registry
	script    *jshost.Host

	wsAddr  net.Addr
	tcpAddr net.Addr
	serving chan error
}

func newDaemon(cfg *config.Config, log *zap.Logger) (*daemon, error) {
	ct, err := codec.ParseCodecType(cfg.Runtime.Codec)
	if err != nil {
		return nil, err
	}
	d := &daemon{
		cfg:      cfg,
		log:      log,
		registry: functor.NewRegistry(),
		serving:  make(chan error, 2),
	}

	switch cfg.Discovery.Backend {
	case "etcd":
		d.discovery, err = discovery.NewEtcdRegistry(cfg.Discovery.Endpoints,
			discovery.WithPrefix(cfg.Discovery.Prefix),
			discovery.WithLogger(log))
		if err != nil {
			return nil, err
		}
	case "memory":
		d.discovery = discovery.NewMemoryRegistry()
	}

	opts := []server.Option{
		server.WithLogger(log),
		server.WithCodec(ct),
		server.WithPath(cfg.Listen.Path),
		server.WithOriginPatterns(cfg.Listen.OriginPatterns...),
		server.WithConcurrency(cfg.Runtime.Concurrency),
		server.WithRequestTimeout(cfg.Runtime.RequestTimeout),
		server.WithHeartbeat(cfg.Runtime.Heartbeat),
	}
	if d.discovery != nil {
		opts = append(opts, server.WithDiscovery(d.discovery, cfg.Service.Name, cfg.Discovery.TTL))
	}
	d.server = server.NewServer(d.registry, opts...)

	d.server.Use(middleware.RecoverMiddleware(log))
	d.server.Use(middleware.LoggingMiddleware(log))
	if cfg.Limits.Rate > 0 {
		d.server.Use(middleware.RateLimitMiddleware(cfg.Limits.Rate, cfg.Limits.Burst))
	}
	if cfg.Limits.HandlerTimeout > 0 {
		d.server.Use(middleware.TimeOutMiddleware(cfg.Limits.HandlerTimeout))
	}
	if cfg.Limits.Retries > 0 {
		d.server.Use(middleware.RetryMiddleware(cfg.Limits.Retries, cfg.Limits.RetryDelay, log))
	}

	if err := registerBuiltins(d.registry, d.server); err != nil {
		return nil, err
	}
	return d, nil
}

// start binds the listeners, attaches the script host and announces the endpoints.
func (d *daemon) start(ctx context.Context) error {
	if addr := d.cfg.Listen.WebSocket; addr != "" {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen websocket: %w", err)
		}
		d.wsAddr = l.Addr()
		go func() { d.serving <- d.server.ServeWebSocket(l) }()
	}
	if addr := d.cfg.Listen.TCP; addr != "" {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen tcp: %w", err)
		}
		d.tcpAddr = l.Addr()
		go func() { d.serving <- d.server.ServeTCP(l) }()
	}

	if path := d.cfg.Script.Path; path != "" {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		d.script, err = jshost.New(jshost.WithLogger(d.log.Named("script")), jshost.WithScript(string(src)))
		if err != nil {
			return err
		}
		go d.server.ServeTransport(d.script, "script:"+path, codec.CodecTypeJSON)
	}

	if d.discovery == nil {
		return nil
	}
	for _, inst := range d.instances() {
		if err := d.server.Announce(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

// instances lists the announced endpoints, with the advertised host when configured.
func (d *daemon) instances() []discovery.ServiceInstance {
	var out []discovery.ServiceInstance
	if d.wsAddr != nil {
		out = append(out, discovery.ServiceInstance{
			Addr:      "ws://" + d.advertise(d.wsAddr) + d.cfg.Listen.Path,
			Transport: discovery.TransportWebSocket,
			Weight:    1,
			Version:   version,
		})
	}
	if d.tcpAddr != nil {
		out = append(out, discovery.ServiceInstance{
			Addr:      d.advertise(d.tcpAddr),
			Transport: discovery.TransportTCP,
			Weight:    1,
			Version:   version,
		})
	}
	return out
}

func (d *daemon) advertise(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if d.cfg.Service.Advertise != "" {
		host = d.cfg.Service.Advertise
	} else if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		if name, err := os.Hostname(); err == nil {
			host = name
		}
	}
	return net.JoinHostPort(host, port)
}

// wait blocks until ctx ends or a listener fails.
func (d *daemon) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-d.serving:
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// stop shuts the server down gracefully, then releases the script host and discovery client.
func (d *daemon) stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := d.server.Shutdown(ctx)
	if d.script != nil {
		err = multierr.Append(err, d.script.Close())
	}
	if d.discovery != nil {
		err = multierr.Append(err, d.discovery.Close())
	}
	return err
}
