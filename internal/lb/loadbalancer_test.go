package lb_test

import (
	"testing"

	"github.com/myluster/QtWebServerChat/internal/lb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBalancer_PickEmpty(t *testing.T) {
	balancer := lb.New()
	_, ok := balancer.Pick("presence", lb.RoundRobin)
	assert.False(t, ok)
}

func TestLoadBalancer_PickAllUnhealthy(t *testing.T) {
	balancer := lb.New()
	balancer.Register("presence", "a", 1, 1)
	balancer.UpdateHealth("presence", "a", 1, false)

	_, ok := balancer.Pick("presence", lb.RoundRobin)
	assert.False(t, ok)
}

func TestLoadBalancer_RoundRobin(t *testing.T) {
	balancer := lb.New()
	balancer.Register("presence", "a", 1, 1)
	balancer.Register("presence", "b", 2, 1)

	seen := map[string]int{}
	for i := 0; i < 10; i++ {
		inst, ok := balancer.Pick("presence", lb.RoundRobin)
		require.True(t, ok)
		seen[inst.Host]++
	}
	assert.Equal(t, 5, seen["a"])
	assert.Equal(t, 5, seen["b"])
}

func TestLoadBalancer_RoundRobinSkipsUnhealthy(t *testing.T) {
	balancer := lb.New()
	balancer.Register("presence", "a", 1, 1)
	balancer.Register("presence", "b", 2, 1)
	balancer.UpdateHealth("presence", "a", 1, false)

	for i := 0; i < 20; i++ {
		inst, ok := balancer.Pick("presence", lb.RoundRobin)
		require.True(t, ok)
		assert.Equal(t, "b", inst.Host)
	}
}

func TestLoadBalancer_WeightedRoundRobinDistribution(t *testing.T) {
	balancer := lb.New()
	balancer.Register("presence", "heavy", 1, 90)
	balancer.Register("presence", "light", 2, 10)

	counts := map[string]int{}
	const draws = 5000
	for i := 0; i < draws; i++ {
		inst, ok := balancer.Pick("presence", lb.WeightedRoundRobin)
		require.True(t, ok)
		counts[inst.Host]++
	}

	// Frequency of each instance should converge to weight/total weight,
	// per §8's testable property 8. Allow generous tolerance for the
	// random draw.
	heavyFraction := float64(counts["heavy"]) / float64(draws)
	assert.InDelta(t, 0.9, heavyFraction, 0.05)
}

func TestLoadBalancer_LeastConnectionsOnlyHealthy(t *testing.T) {
	balancer := lb.New()
	balancer.Register("presence", "a", 1, 1)
	balancer.Register("presence", "b", 2, 1)
	balancer.UpdateHealth("presence", "b", 2, false)

	for i := 0; i < 20; i++ {
		inst, ok := balancer.Pick("presence", lb.LeastConnections)
		require.True(t, ok)
		assert.Equal(t, "a", inst.Host)
	}
}

func TestLoadBalancer_Deregister(t *testing.T) {
	balancer := lb.New()
	balancer.Register("presence", "a", 1, 1)
	balancer.Deregister("presence", "a", 1)

	assert.Empty(t, balancer.Instances("presence"))
}

func TestLoadBalancer_RegisterUpdatesWeightInPlace(t *testing.T) {
	balancer := lb.New()
	balancer.Register("presence", "a", 1, 1)
	balancer.Register("presence", "a", 1, 5)

	instances := balancer.Instances("presence")
	require.Len(t, instances, 1)
	assert.Equal(t, 5, instances[0].Weight)
}

func TestLoadBalancer_Failover(t *testing.T) {
	// Testable property S5: mark A unhealthy, all subsequent picks route
	// to B, none attempt A.
	balancer := lb.New()
	balancer.Register("presence", "A", 1, 1)
	balancer.Register("presence", "B", 2, 1)
	balancer.UpdateHealth("presence", "A", 1, false)

	for i := 0; i < 100; i++ {
		inst, ok := balancer.Pick("presence", lb.RoundRobin)
		require.True(t, ok)
		assert.Equal(t, "B", inst.Host)
	}
}
