package lb

import "sync"

// Registration is one service instance's static registration metadata —
// weight and an arbitrary metadata string — tracked separately from the
// LoadBalancer's live health state, per
// original_source/Services/utils/service_registry.h.
type Registration struct {
	ServiceName string
	Host        string
	Port        int
	Weight      int
	Metadata    string
}

// Registry is a thin metadata layer over a LoadBalancer. Register writes
// through to the balancer immediately (so the instance is eligible for
// Pick) while separately remembering the registration's weight and
// metadata, so a service can be re-registered — e.g. a config reload
// updating its weight — without resetting the balancer's accumulated
// health-checker history for that instance.
type Registry struct {
	lb *LoadBalancer

	mu   sync.Mutex
	regs map[string][]Registration // service name -> registrations
}

// NewRegistry builds a Registry over the given LoadBalancer.
func NewRegistry(balancer *LoadBalancer) *Registry {
	return &Registry{lb: balancer, regs: make(map[string][]Registration)}
}

// Register records the instance's metadata and registers it with the
// underlying LoadBalancer. Registering an already-known (service, host,
// port) updates its weight and metadata in place.
func (r *Registry) Register(serviceName, host string, port, weight int, metadata string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.regs[serviceName]
	for i := range list {
		if list[i].Host == host && list[i].Port == port {
			list[i].Weight = weight
			list[i].Metadata = metadata
			r.lb.Register(serviceName, host, port, weight)
			return
		}
	}

	r.regs[serviceName] = append(list, Registration{
		ServiceName: serviceName, Host: host, Port: port, Weight: weight, Metadata: metadata,
	})
	r.lb.Register(serviceName, host, port, weight)
}

// Unregister drops the instance's registration metadata and removes it
// from the underlying LoadBalancer.
func (r *Registry) Unregister(serviceName, host string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.regs[serviceName]
	for i := range list {
		if list[i].Host == host && list[i].Port == port {
			r.regs[serviceName] = append(list[:i], list[i+1:]...)
			break
		}
	}
	r.lb.Deregister(serviceName, host, port)
}

// RegisteredServices returns a snapshot of every registration for one
// service name.
func (r *Registry) RegisteredServices(serviceName string) []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.regs[serviceName]
	out := make([]Registration, len(list))
	copy(out, list)
	return out
}

// AllRegisteredServices returns a snapshot of every registration across
// every service name.
func (r *Registry) AllRegisteredServices() map[string][]Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]Registration, len(r.regs))
	for name, list := range r.regs {
		cp := make([]Registration, len(list))
		copy(cp, list)
		out[name] = cp
	}
	return out
}
