package discovery

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseRegistry runs the same scenario against any implementation.
func exerciseRegistry(t *testing.T, reg Registry, service string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst1 := ServiceInstance{ID: uuid.NewString(), Addr: "ws://127.0.0.1:8001/rpc", Transport: TransportWebSocket, Codec: "json", Weight: 10, Methods: []string{"Arith.Add"}}
	inst2 := ServiceInstance{ID: uuid.NewString(), Addr: "ws://127.0.0.1:8002/rpc", Transport: TransportWebSocket, Codec: "json", Weight: 5}

	require.NoError(t, reg.Register(ctx, service, inst1, 10))
	require.NoError(t, reg.Register(ctx, service, inst2, 10))

	instances, err := reg.Discover(ctx, service)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.ElementsMatch(t, []ServiceInstance{inst1, inst2}, instances)

	require.NoError(t, reg.Deregister(ctx, service, inst1.Addr))

	require.Eventually(t, func() bool {
		instances, err = reg.Discover(ctx, service)
		return err == nil && len(instances) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, inst2.Addr, instances[0].Addr)

	require.NoError(t, reg.Deregister(ctx, service, inst2.Addr))
}

func TestMemoryRegistry(t *testing.T) {
	exerciseRegistry(t, NewMemoryRegistry(), "Arith")
}

func TestMemoryRegistryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	updates := reg.Watch(ctx, "Arith")

	require.NoError(t, reg.Register(ctx, "Arith", ServiceInstance{Addr: "a"}, 10))
	require.NoError(t, reg.Register(ctx, "Arith", ServiceInstance{Addr: "b"}, 10))

	// only the latest list is kept for a slow watcher
	got := <-updates
	assert.Len(t, got, 2)

	require.NoError(t, reg.Deregister(ctx, "Arith", "a"))
	got = <-updates
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Addr)

	cancel()
	_, ok := <-updates
	for ok {
		_, ok = <-updates
	}
}

func TestMemoryRegistryUnknownService(t *testing.T) {
	reg := NewMemoryRegistry()
	instances, err := reg.Discover(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestEtcdRegistry(t *testing.T) {
	endpoints := os.Getenv("BRIDGE_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("BRIDGE_ETCD_ENDPOINTS not set")
	}

	prefix := "/bridge-rpc-test/" + uuid.NewString() + "/"
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), WithPrefix(prefix))
	require.NoError(t, err)
	defer reg.Close()

	exerciseRegistry(t, reg, "Arith")
}

func TestEtcdRegistryReplacesLease(t *testing.T) {
	endpoints := os.Getenv("BRIDGE_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("BRIDGE_ETCD_ENDPOINTS not set")
	}

	prefix := "/bridge-rpc-test/" + uuid.NewString() + "/"
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), WithPrefix(prefix))
	require.NoError(t, err)
	defer reg.Close()

	ctx := context.Background()
	inst := ServiceInstance{Addr: "127.0.0.1:9000", Transport: TransportTCP}
	require.NoError(t, reg.Register(ctx, "Arith", inst, 10))
	first, ok := reg.leaseOf("Arith", inst.Addr)
	require.True(t, ok)

	require.NoError(t, reg.Register(ctx, "Arith", inst, 10))
	second, ok := reg.leaseOf("Arith", inst.Addr)
	require.True(t, ok)
	assert.NotEqual(t, first, second)

	ttl, err := reg.client.TimeToLive(ctx, first)
	require.NoError(t, err)
	assert.EqualValues(t, -1, ttl.TTL, "replaced lease should be revoked")

	instances, err := reg.Discover(ctx, "Arith")
	require.NoError(t, err)
	assert.Len(t, instances, 1)
	require.NoError(t, reg.Deregister(ctx, "Arith", inst.Addr))
}
