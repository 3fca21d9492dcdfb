// Package registry implements the Connection Registry: a process-singleton
// index of (user -> {session -> session-info}) and (session -> user), with
// activity timestamps and an expiry sweep. Grounded on the teacher's
// connection manager (apps/gateway/service/business/cm.go) but reduced to
// the single-mutex, two-map discipline spec.md mandates instead of the
// teacher's sharded pool.
package registry

import (
	"sync"
	"time"
)

// SessionHandle is whatever the caller uses to identify a session; the
// registry never dereferences it, only compares and stores it.
type SessionHandle interface{}

// Info is the per-session bookkeeping the registry keeps.
type Info struct {
	SessionID    string
	IPAddress    string
	LastActivity time.Time
}

type sessionKey struct {
	user    string
	session SessionHandle
}

// Registry is the Connection Registry of §4.4.
type Registry struct {
	mu sync.Mutex

	// forward maps a user to its live sessions and their info.
	forward map[string]map[SessionHandle]*Info

	// reverse maps a session directly back to its owning user, so UserOf
	// can find the user from the session alone.
	reverse map[SessionHandle]string
}

// New creates an empty Connection Registry.
func New() *Registry {
	return &Registry{
		forward: make(map[string]map[SessionHandle]*Info),
		reverse: make(map[SessionHandle]string),
	}
}

// Add registers a session under a user with the given session-id and remote
// address.
func (r *Registry) Add(user string, session SessionHandle, sessionID, ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.forward[user]
	if !ok {
		sessions = make(map[SessionHandle]*Info)
		r.forward[user] = sessions
	}
	sessions[session] = &Info{
		SessionID:    sessionID,
		IPAddress:    ip,
		LastActivity: time.Now(),
	}
	r.reverse[session] = user
}

// Remove deletes one session belonging to a user. If it was the last session
// for that user, the user's entry is removed entirely (invariant: no empty
// sets linger).
func (r *Registry) Remove(user string, session SessionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessions, ok := r.forward[user]; ok {
		delete(sessions, session)
		if len(sessions) == 0 {
			delete(r.forward, user)
		}
	}
	delete(r.reverse, session)
}

// Online reports whether a user has at least one live session.
func (r *Registry) Online(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.forward[user]
	return ok && len(sessions) > 0
}

// OnlineUsers returns every user with at least one live session.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.forward))
	for u := range r.forward {
		users = append(users, u)
	}
	return users
}

// SessionCount reports how many live sessions a user has.
func (r *Registry) SessionCount(user string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.forward[user])
}

// Touch bumps a session's last-activity to now. It is a no-op if the session
// is not registered.
func (r *Registry) Touch(user string, session SessionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessions, ok := r.forward[user]; ok {
		if info, ok := sessions[session]; ok {
			info.LastActivity = time.Now()
		}
	}
}

// UserOf returns the user owning a session, if registered.
func (r *Registry) UserOf(session SessionHandle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.reverse[session]
	return user, ok
}

// Expired is one session found stale by SweepExpired, returned so the
// caller can react (e.g. trigger its own teardown) outside the registry
// lock.
type Expired struct {
	User    string
	Session SessionHandle
}

// SweepExpired walks every session, collects those whose last activity is
// older than timeout, removes them from the registry, and returns them.
func (r *Registry) SweepExpired(timeout time.Duration) []Expired {
	r.mu.Lock()

	var stale []Expired
	now := time.Now()
	for user, sessions := range r.forward {
		for session, info := range sessions {
			if now.Sub(info.LastActivity) > timeout {
				stale = append(stale, Expired{User: user, Session: session})
			}
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		r.Remove(e.User, e.Session)
	}
	return stale
}
