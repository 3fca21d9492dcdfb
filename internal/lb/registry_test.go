package lb_test

import (
	"testing"

	"github.com/myluster/QtWebServerChat/internal/lb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterMakesInstancePickable(t *testing.T) {
	balancer := lb.New()
	reg := lb.NewRegistry(balancer)

	reg.Register("database", "10.0.0.1", 5432, 1, "role=primary")

	inst, ok := balancer.Pick("database", lb.RoundRobin)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", inst.Host)
}

func TestRegistry_RegisteredServices(t *testing.T) {
	balancer := lb.New()
	reg := lb.NewRegistry(balancer)

	reg.Register("presence", "10.0.0.2", 50051, 2, "version=v1")

	list := reg.RegisteredServices("presence")
	require.Len(t, list, 1)
	assert.Equal(t, "10.0.0.2", list[0].Host)
	assert.Equal(t, 2, list[0].Weight)
	assert.Equal(t, "version=v1", list[0].Metadata)
}

func TestRegistry_ReRegisterUpdatesWeightWithoutResettingHealth(t *testing.T) {
	balancer := lb.New()
	reg := lb.NewRegistry(balancer)

	reg.Register("database", "10.0.0.1", 5432, 1, "")
	balancer.UpdateHealth("database", "10.0.0.1", 5432, false)

	reg.Register("database", "10.0.0.1", 5432, 5, "")

	instances := balancer.Instances("database")
	require.Len(t, instances, 1)
	assert.Equal(t, 5, instances[0].Weight)
	assert.False(t, instances[0].Healthy, "re-registering must not reset accumulated health state")
}

func TestRegistry_Unregister(t *testing.T) {
	balancer := lb.New()
	reg := lb.NewRegistry(balancer)

	reg.Register("cache", "10.0.0.3", 6379, 1, "")
	reg.Unregister("cache", "10.0.0.3", 6379)

	assert.Empty(t, reg.RegisteredServices("cache"))
	_, ok := balancer.Pick("cache", lb.RoundRobin)
	assert.False(t, ok)
}

func TestRegistry_AllRegisteredServices(t *testing.T) {
	balancer := lb.New()
	reg := lb.NewRegistry(balancer)

	reg.Register("database", "10.0.0.1", 5432, 1, "")
	reg.Register("presence", "10.0.0.2", 50051, 1, "")

	all := reg.AllRegisteredServices()
	assert.Len(t, all, 2)
	assert.Contains(t, all, "database")
	assert.Contains(t, all, "presence")
}
