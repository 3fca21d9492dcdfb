// Package lb implements the Load Balancer of §4.7: a health-aware selector
// across named service instances, shared between the Presence Client Pool
// and the Database Driver. Grounded on
// original_source/Services/utils/load_balancer.{h,cpp} — the three
// algorithms (round_robin, weighted_round_robin, least_connections) and the
// service-name -> ordered instance list shape are carried over directly,
// with a single mutex covering both maps and cursors per spec.md §5.
package lb

import (
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"
)

// Algorithm selects among the strategies pick() supports.
type Algorithm string

const (
	RoundRobin         Algorithm = "round_robin"
	WeightedRoundRobin Algorithm = "weighted_round_robin"
	LeastConnections   Algorithm = "least_connections"
)

// Instance is one live address/port of a replicated backend service.
type Instance struct {
	ServiceName string
	Host        string
	Port        int
	Weight      int
	Healthy     bool
}

type instanceKey struct {
	host string
	port int
}

func (i Instance) key() instanceKey {
	return instanceKey{host: i.Host, port: i.Port}
}

// LoadBalancer is the process-singleton selector of §4.7.
type LoadBalancer struct {
	mu sync.Mutex

	instances map[string][]*Instance // service name -> ordered instances
	cursors   map[string]int         // service name -> round-robin cursor

	rng *rand.Rand
}

// New creates an empty Load Balancer.
func New() *LoadBalancer {
	return &LoadBalancer{
		instances: make(map[string][]*Instance),
		cursors:   make(map[string]int),
		// #nosec G404 -- load-balancing draws, not security-sensitive.
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register adds an instance for a service, defaulting to healthy. Registering
// an already-registered (host, port) pair updates its weight in place.
func (lb *LoadBalancer) Register(name, host string, port, weight int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	for _, inst := range lb.instances[name] {
		if inst.key() == (instanceKey{host, port}) {
			inst.Weight = weight
			return
		}
	}

	lb.instances[name] = append(lb.instances[name], &Instance{
		ServiceName: name,
		Host:        host,
		Port:        port,
		Weight:      weight,
		Healthy:     true,
	})
}

// Deregister removes an instance from a service's set.
func (lb *LoadBalancer) Deregister(name, host string, port int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	list := lb.instances[name]
	for i, inst := range list {
		if inst.key() == (instanceKey{host, port}) {
			lb.instances[name] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// UpdateHealth flips the healthy flag of one instance, as driven by a health
// checker.
func (lb *LoadBalancer) UpdateHealth(name, host string, port int, healthy bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	for _, inst := range lb.instances[name] {
		if inst.key() == (instanceKey{host, port}) {
			inst.Healthy = healthy
			return
		}
	}
}

// Instances returns a snapshot of every instance registered for a service.
func (lb *LoadBalancer) Instances(name string) []Instance {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	list := lb.instances[name]
	out := make([]Instance, len(list))
	for i, inst := range list {
		out[i] = *inst
	}
	return out
}

// Pick selects one healthy instance for a service by the given algorithm.
// Returns (Instance{}, false) if the service has no healthy instances.
func (lb *LoadBalancer) Pick(name string, algorithm Algorithm) (Instance, bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	healthy := make([]*Instance, 0, len(lb.instances[name]))
	for _, inst := range lb.instances[name] {
		if inst.Healthy {
			healthy = append(healthy, inst)
		}
	}
	if len(healthy) == 0 {
		return Instance{}, false
	}

	switch algorithm {
	case WeightedRoundRobin:
		return *lb.pickWeighted(healthy), true
	case LeastConnections:
		// No per-instance connection counter is exposed (§4.7, §9 Open
		// Question); the specified fallback is uniform random.
		return *healthy[lb.rng.Intn(len(healthy))], true
	default: // RoundRobin
		cursor := lb.cursors[name] % len(healthy)
		lb.cursors[name] = cursor + 1
		return *healthy[cursor], true
	}
}

// pickWeighted draws a uniform integer in [1, W] and returns the first
// instance whose cumulative weight bound is >= the draw. Must be called
// with lb.mu held.
func (lb *LoadBalancer) pickWeighted(healthy []*Instance) *Instance {
	total := 0
	for _, inst := range healthy {
		w := inst.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	draw := lb.rng.Intn(total) + 1

	cumulative := 0
	for _, inst := range healthy {
		w := inst.Weight
		if w <= 0 {
			w = 1
		}
		cumulative += w
		if cumulative >= draw {
			return inst
		}
	}
	return healthy[len(healthy)-1]
}

// DialProbe reports whether a TCP connect to host:port succeeds within
// timeout, matching original_source's checkServiceHealth (a bare "does the
// socket connect" liveness criterion, no protocol handshake).
func DialProbe(host string, port int, timeout time.Duration) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
