package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultPrefix roots every key written by EtcdRegistry:
//
//	Key:   {prefix}{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
const DefaultPrefix = "/bridge-rpc/"

// EtcdRegistry implements Registry on etcd v3. Registrations hold a TTL lease
// kept alive in the background: if the server dies the lease expires and its
// entry disappears.
type EtcdRegistry struct {
	client *clientv3.Client // Thread-safe, shared across goroutines
	prefix string
	log    *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
}

// EtcdOption configures an EtcdRegistry.
type EtcdOption func(*etcdOptions)

type etcdOptions struct {
	prefix      string
	log         *zap.Logger
	dialTimeout time.Duration
}

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) EtcdOption {
	return func(o *etcdOptions) { o.prefix = prefix }
}

// WithLogger is used by the registry and handed to the etcd client.
func WithLogger(log *zap.Logger) EtcdOption {
	return func(o *etcdOptions) { o.log = log }
}

// WithDialTimeout bounds the initial connection to etcd.
func WithDialTimeout(d time.Duration) EtcdOption {
	return func(o *etcdOptions) { o.dialTimeout = d }
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, opts ...EtcdOption) (*EtcdRegistry, error) {
	o := etcdOptions{prefix: DefaultPrefix, log: zap.NewNop(), dialTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: o.dialTimeout,
		Logger:      o.log.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: connect etcd: %w", err)
	}
	return &EtcdRegistry{
		client: c,
		prefix: o.prefix,
		log:    o.log,
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

func (r *EtcdRegistry) servicePrefix(serviceName string) string {
	return r.prefix + serviceName + "/"
}

// Register stores instance under a lease of ttl seconds and keeps the lease alive.
// The lease id stays local to the call and the leases map, so one EtcdRegistry
// can be shared by several servers.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("discovery: grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := r.servicePrefix(serviceName) + instance.Addr
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("discovery: put %s: %w", key, err)
	}

	// KeepAlive must outlive the caller's ctx; it stops when the lease is revoked or the client closes
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("discovery: keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
		r.log.Debug("lease keepalive stopped", zap.String("key", key))
	}()

	r.mu.Lock()
	prev, replaced := r.leases[key]
	r.leases[key] = lease.ID
	r.mu.Unlock()

	// re-registering the same address must not leave the old lease alive
	if replaced && prev != lease.ID {
		if _, err := r.client.Revoke(ctx, prev); err != nil {
			r.log.Warn("revoke replaced lease", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// leaseOf returns the lease currently held for an instance.
func (r *EtcdRegistry) leaseOf(serviceName, addr string) (clientv3.LeaseID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lease, ok := r.leases[r.servicePrefix(serviceName)+addr]
	return lease, ok
}

// Deregister removes an instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := r.servicePrefix(serviceName) + addr

	r.mu.Lock()
	lease, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	_, err := r.client.Delete(ctx, key)
	if ok {
		_, revokeErr := r.client.Revoke(ctx, lease)
		err = multierr.Append(err, revokeErr)
	}
	return err
}

// Discover returns the instances currently registered for serviceName.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, r.servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.log.Warn("skipping malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-reads the full instance list on every change under the service prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.servicePrefix(serviceName), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				r.log.Warn("refresh after watch event failed", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close revokes outstanding leases and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	leases := r.leases
	r.leases = make(map[string]clientv3.LeaseID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var err error
	for _, lease := range leases {
		_, revokeErr := r.client.Revoke(ctx, lease)
		err = multierr.Append(err, revokeErr)
	}
	return multierr.Append(err, r.client.Close())
}
