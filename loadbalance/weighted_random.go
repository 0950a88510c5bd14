package loadbalance

import (
	"math/rand/v2"

	"bridge-rpc/discovery"
)

// WeightedRandomBalancer picks instances with probability proportional to
// their weight. Instances with a weight below 1 count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(_ string, instances []discovery.ServiceInstance) (*discovery.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, discovery.ErrNoInstances
	}

	totalWeight := 0
	for i := range instances {
		totalWeight += weight(&instances[i])
	}

	r := rand.IntN(totalWeight)
	for i := range instances {
		r -= weight(&instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func weight(inst *discovery.ServiceInstance) int {
	if inst.Weight < 1 {
		return 1
	}
	return inst.Weight
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
