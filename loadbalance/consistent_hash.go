package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"bridge-rpc/discovery"
)

// ConsistentHashBalancer maps keys to instances on a hash ring.
// The same key maps to the same instance until the ring changes.
//
// Each instance is placed on the ring as replicas virtual nodes so a handful
// of instances still spread evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu     sync.Mutex
	ring   []uint32                              // Sorted hash values
	nodes  map[uint32]string                     // Hash value → instance address
	byAdr  map[string]*discovery.ServiceInstance // Address → instance
	sig    string                                // Addresses the ring was synced from
	synced bool
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]string),
		byAdr:    make(map[string]*discovery.ServiceInstance),
	}
}

// Add places an instance on the ring.
func (b *ConsistentHashBalancer) Add(instance *discovery.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(instance)
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

func (b *ConsistentHashBalancer) addLocked(instance *discovery.ServiceInstance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance.Addr
	}
	b.byAdr[instance.Addr] = instance
}

// Pick returns the instance owning key. When instances differs from the set
// the ring was built from, the ring is rebuilt first; a nil list reuses the
// current ring.
func (b *ConsistentHashBalancer) Pick(key string, instances []discovery.ServiceInstance) (*discovery.ServiceInstance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if instances != nil {
		b.syncLocked(instances)
	}
	if len(b.ring) == 0 {
		return nil, discovery.ErrNoInstances
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.byAdr[b.nodes[b.ring[idx]]], nil
}

func (b *ConsistentHashBalancer) syncLocked(instances []discovery.ServiceInstance) {
	addrs := make([]string, len(instances))
	for i := range instances {
		addrs[i] = instances[i].Addr
	}
	sort.Strings(addrs)
	sig := strings.Join(addrs, ",")
	if b.synced && sig == b.sig {
		return
	}

	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]string)
	b.byAdr = make(map[string]*discovery.ServiceInstance)
	for i := range instances {
		inst := instances[i]
		b.addLocked(&inst)
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
	b.sig = sig
	b.synced = true
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
