// Package loadbalance picks the bridge endpoint a client connects to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  heterogeneous instances, proportional to ServiceInstance.Weight
//   - ConsistentHash:  the same key (for example a client id) keeps landing on the same
//     instance, so per-session state in a script host survives reconnects
package loadbalance

import (
	"fmt"

	"bridge-rpc/discovery"
)

// Balancer selects one instance out of a discovered list.
// Pick must be goroutine-safe; key may be ignored by strategies without affinity.
type Balancer interface {
	Pick(key string, instances []discovery.ServiceInstance) (*discovery.ServiceInstance, error)
	Name() string
}

// New returns the balancer registered under name: "round_robin", "weighted_random"
// or "consistent_hash".
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
