package loadbalance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridge-rpc/discovery"
)

var testInstances = []discovery.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick("", testInstances)
		require.NoError(t, err)
		results[i] = inst.Addr
	}
	assert.Equal(t, []string{":8001", ":8002", ":8003"}, results)

	// wraps around to the first
	inst, err := b.Pick("", testInstances)
	require.NoError(t, err)
	assert.Equal(t, results[0], inst.Addr)
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick("", nil)
	assert.ErrorIs(t, err, discovery.ErrNoInstances)
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("", testInstances)
		require.NoError(t, err)
		counts[inst.Addr]++
	}

	// weights are 10:5:10, so :8001 should be picked about twice as often as :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	assert.InDelta(t, 2.0, ratio, 0.5)
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick("", []discovery.ServiceInstance{{Addr: "a"}, {Addr: "b"}})
	require.NoError(t, err)
	assert.Contains(t, []string{"a", "b"}, inst.Addr)
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	for i := range testInstances {
		b.Add(&testInstances[i])
	}

	inst1, err := b.Pick("user-123", nil)
	require.NoError(t, err)
	inst2, _ := b.Pick("user-123", nil)
	assert.Equal(t, inst1.Addr, inst2.Addr)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("key-%d", i), nil)
		seen[inst.Addr] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestConsistentHashFollowsInstanceList(t *testing.T) {
	b := NewConsistentHashBalancer()

	before, err := b.Pick("session-7", testInstances)
	require.NoError(t, err)

	// removing an unrelated instance keeps the mapping
	var rest []discovery.ServiceInstance
	for _, inst := range testInstances {
		if inst.Addr != before.Addr {
			rest = append(rest, inst)
		}
	}
	remaining := append([]discovery.ServiceInstance{*before}, rest[:1]...)
	after, err := b.Pick("session-7", remaining)
	require.NoError(t, err)
	assert.Equal(t, before.Addr, after.Addr)

	_, err = NewConsistentHashBalancer().Pick("k", []discovery.ServiceInstance{})
	assert.ErrorIs(t, err, discovery.ErrNoInstances)
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{
		"":                "RoundRobin",
		"round_robin":     "RoundRobin",
		"weighted_random": "WeightedRandom",
		"consistent_hash": "ConsistentHash",
	} {
		b, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, want, b.Name())
	}
	_, err := New("fastest")
	assert.Error(t, err)
}
