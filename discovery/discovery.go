// Package discovery lets bridge servers announce themselves and clients find them.
package discovery

import (
	"context"
	"errors"
)

// ErrNoInstances is returned when a service has no registered instance.
var ErrNoInstances = errors.New("discovery: no instances available")

// Transport names carried in ServiceInstance.Transport.
const (
	TransportWebSocket = "websocket"
	TransportTCP       = "tcp"
)

// ServiceInstance describes one reachable bridge endpoint.
type ServiceInstance struct {
	ID        string   `json:"id"`
	Addr      string   `json:"addr"`      // ws://host:port/rpc or host:port
	Transport string   `json:"transport"` // TransportWebSocket or TransportTCP
	Codec     string   `json:"codec"`     // "json" or "binary"
	Weight    int      `json:"weight"`    // Weight for load balancing
	Version   string   `json:"version,omitempty"`
	Methods   []string `json:"methods,omitempty"` // Functors served by the instance
}

// Registry stores service instances under a service name.
type Registry interface {
	// Register announces instance for ttl seconds, renewed until Deregister or Close.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx ends.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}

// DefaultService is the service name bridge servers announce under.
const DefaultService = "bridge"
