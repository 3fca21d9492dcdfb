package lb

import (
	"context"
	"time"

	"github.com/pitabwire/util"
)

// HealthChecker actively dials every instance of a tracked service on an
// interval and reports the result back to the Load Balancer, matching
// original_source/Services/utils/health_checker.cpp's startHealthChecking:
// a background loop calling performHealthCheck -> updateHealthStatus, using
// "the TCP connect succeeds" as the sole liveness criterion.
type HealthChecker struct {
	lb       *LoadBalancer
	services []string
	interval time.Duration
	timeout  time.Duration
}

// NewHealthChecker builds a checker for the given service names.
func NewHealthChecker(lb *LoadBalancer, services []string, interval, timeout time.Duration) *HealthChecker {
	return &HealthChecker{lb: lb, services: services, interval: interval, timeout: timeout}
}

// Run blocks, probing every instance of every tracked service each
// interval, until ctx is cancelled.
func (h *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.checkOnce(ctx)
		}
	}
}

func (h *HealthChecker) checkOnce(ctx context.Context) {
	log := util.Log(ctx)
	for _, name := range h.services {
		for _, inst := range h.lb.Instances(name) {
			healthy := DialProbe(inst.Host, inst.Port, h.timeout)
			if healthy != inst.Healthy {
				log.WithField("service", name).
					WithField("host", inst.Host).
					WithField("port", inst.Port).
					WithField("healthy", healthy).
					Info("load balancer instance health changed")
			}
			h.lb.UpdateHealth(name, inst.Host, inst.Port, healthy)
		}
	}
}
