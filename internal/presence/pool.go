package presence

import (
	"context"
	"sync"

	"github.com/myluster/QtWebServerChat/internal/gatewayerr"
	"github.com/myluster/QtWebServerChat/internal/lb"
	"github.com/myluster/QtWebServerChat/internal/resilience"
)

// ServiceName is the load-balancer service name presence replicas register
// under.
const ServiceName = "presence"

// defaultHost/defaultPort back the "ad-hoc stub built with a default
// address" §4.6 requires when acquire() is called before initialize().
const (
	defaultHost = "127.0.0.1"
	defaultPort = 50051
)

// Pool is the fixed-size stack of stubs of §4.6. All operations are
// mutex-protected; acquire pops, release pushes bounded by capacity.
type Pool struct {
	mu   sync.Mutex
	free []*Stub
	cap  int
	lb   *lb.LoadBalancer
	cb   *resilience.CircuitBreaker

	initialized bool
}

// NewPool creates a Pool of the given capacity against the shared Load
// Balancer. The pool is lazily initializable: Initialize can be called
// later (or never — Acquire before Initialize still works, per §4.6).
// Dials are gated by a circuit breaker so a presence-service outage fails
// fast instead of dialing every unhealthy instance on every acquire.
func NewPool(capacity int, balancer *lb.LoadBalancer) *Pool {
	return &Pool{cap: capacity, lb: balancer, cb: resilience.NewCircuitBreaker(resilience.DefaultSettings(ServiceName))}
}

// Initialize marks the pool ready; it does not itself pre-populate the
// stack, since stubs are constructed lazily against whatever instance the
// Load Balancer currently reports healthy.
func (p *Pool) Initialize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = true
}

// Acquire pops a stub from the free stack. If empty, it consults the Load
// Balancer for a healthy presence instance and dials a fresh stub; if the
// pool was never Initialize()'d and the load balancer has no healthy
// instance, it falls back to an ad-hoc stub at the default address.
func (p *Pool) Acquire(ctx context.Context) (*Stub, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return s, nil
	}
	initialized := p.initialized
	p.mu.Unlock()

	inst, ok := p.lb.Pick(ServiceName, lb.RoundRobin)
	if !ok {
		if !initialized {
			return Dial(ctx, defaultHost, defaultPort)
		}
		return nil, gatewayerr.New(gatewayerr.KindBackendUnavailable, "no healthy presence instance")
	}

	if p.cb.State() == resilience.StateOpen {
		return nil, gatewayerr.Wrap(gatewayerr.KindBackendUnavailable, "presence circuit open", resilience.ErrCircuitOpen)
	}

	var stub *Stub
	cbErr := p.cb.Execute(func() error {
		s, err := Dial(ctx, inst.Host, inst.Port)
		if err != nil {
			p.lb.UpdateHealth(ServiceName, inst.Host, inst.Port, false)
			return err
		}
		stub = s
		return nil
	})
	if cbErr != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindBackendUnavailable, "dial presence instance failed", cbErr)
	}
	return stub, nil
}

// Release returns a stub to the pool, unless it has observed a transport
// error (must be discarded, per §4.6) or the pool is already at capacity
// (excess is dropped, i.e. closed).
func (p *Pool) Release(stub *Stub) {
	if stub == nil {
		return
	}
	if stub.Tainted() {
		_ = stub.Close()
		return
	}

	p.mu.Lock()
	if len(p.free) >= p.cap {
		p.mu.Unlock()
		_ = stub.Close()
		return
	}
	p.free = append(p.free, stub)
	p.mu.Unlock()
}

// Size reports the number of stubs currently idle in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
