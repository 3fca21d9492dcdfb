package httpapi

import (
	"sync"
	"time"
)

// rateLimiter implements §4.2's "per remote address, a fixed-window
// counter: <= N requests per window" policy.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*windowState
}

type windowState struct {
	count     int
	windowEnd time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*windowState),
	}
}

// Allow reports whether a request from remoteAddr is within the current
// window's limit, incrementing its counter as a side effect.
func (rl *rateLimiter) Allow(remoteAddr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	state, ok := rl.windows[remoteAddr]
	if !ok || now.After(state.windowEnd) {
		state = &windowState{count: 0, windowEnd: now.Add(rl.window)}
		rl.windows[remoteAddr] = state
	}

	if state.count >= rl.limit {
		return false
	}
	state.count++
	return true
}
