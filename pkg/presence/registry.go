// Package presence tracks which users currently hold at least one live
// connection. The registry is process-local state: it starts empty, is
// discarded at shutdown, and is never a source of truth for anything
// durable.
package presence

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

type entry struct {
	mu    sync.Mutex
	conns map[string]struct{}
	dead  bool
}

type Registry struct {
	users *xsync.MapOf[string, *entry]
}

func NewRegistry() *Registry {
	return &Registry{users: xsync.NewMapOf[string, *entry]()}
}

// MarkOnline records a connection for the user and reports whether it is
// the user's first active connection (the Offline -> Online transition).
// A user may hold several connections at once (multi-device).
func (r *Registry) MarkOnline(userID, connID string) bool {
	for {
		e, _ := r.users.LoadOrCompute(userID, func() *entry {
			return &entry{conns: make(map[string]struct{})}
		})
		e.mu.Lock()
		if e.dead {
			// lost a race with the removal in MarkOffline
			e.mu.Unlock()
			continue
		}
		first := len(e.conns) == 0
		e.conns[connID] = struct{}{}
		e.mu.Unlock()
		return first
	}
}

// MarkOffline drops a connection and reports whether it was the user's
// last one (the Online -> Offline transition). Unknown connections are
// ignored and never produce a transition.
func (r *Registry) MarkOffline(userID, connID string) bool {
	e, ok := r.users.Load(userID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.conns[connID]; !ok {
		return false
	}
	delete(e.conns, connID)
	if len(e.conns) > 0 {
		return false
	}
	e.dead = true
	r.users.Delete(userID)
	return true
}

func (r *Registry) IsOnline(userID string) bool {
	e, ok := r.users.Load(userID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.dead && len(e.conns) > 0
}

// Online returns the user IDs with at least one active connection.
func (r *Registry) Online() []string {
	var out []string
	r.users.Range(func(userID string, e *entry) bool {
		e.mu.Lock()
		if !e.dead && len(e.conns) > 0 {
			out = append(out, userID)
		}
		e.mu.Unlock()
		return true
	})
	return out
}
