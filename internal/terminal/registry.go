package terminal

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/termgate/termgate/internal/gateway"
)

// Registry is the single source of truth for which sessions exist. It maps
// session IDs to sessions and keeps a per-container count used to enforce
// the concurrency ceilings. All mutation happens under one lock; no gateway
// call is ever made while holding it.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	perContainer map[string]int

	maxSessions     int
	maxPerContainer int
}

// NewRegistry creates a registry with the given caps. A non-positive cap
// disables that limit.
func NewRegistry(maxSessions, maxPerContainer int) *Registry {
	return &Registry{
		sessions:        make(map[string]*Session),
		perContainer:    make(map[string]int),
		maxSessions:     maxSessions,
		maxPerContainer: maxPerContainer,
	}
}

// Create reserves a slot and returns a new session in the Initializing
// state. Limit checks happen here, before any container-side work, so calls
// over the cap fail without touching the runtime.
func (r *Registry) Create(gw gateway.Gateway, containerRef, owner string, replaySize int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, fmt.Errorf("%w (%d)", ErrGlobalLimit, r.maxSessions)
	}
	if r.maxPerContainer > 0 && r.perContainer[containerRef] >= r.maxPerContainer {
		return nil, fmt.Errorf("%w (%d for %s)", ErrPerContainerLimit, r.maxPerContainer, containerRef)
	}

	s := newSession(uuid.New().String(), containerRef, owner, gw, replaySize, nil)
	s.onClosed = func() { r.Remove(s.ID) }
	r.sessions[s.ID] = s
	r.perContainer[containerRef]++
	return s, nil
}

// Get returns the session with the given ID, or nil.
func (r *Registry) Get(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Remove unlinks a session and releases its per-container slot. Idempotent,
// so an explicit close racing the cleanup loop is harmless.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	if n := r.perContainer[s.ContainerRef] - 1; n > 0 {
		r.perContainer[s.ContainerRef] = n
	} else {
		delete(r.perContainer, s.ContainerRef)
	}
}

// ListExpired returns the IDs of sessions past their idle or hard timeout.
// Read-only: teardown happens through the service, not here.
func (r *Registry) ListExpired(now time.Time, idleTimeout, hardTimeout time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []string
	for id, s := range r.sessions {
		if s.Expired(now, idleTimeout, hardTimeout) {
			expired = append(expired, id)
		}
	}
	return expired
}

// ListByContainer returns the sessions bound to a container.
func (r *Registry) ListByContainer(containerRef string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, s := range r.sessions {
		if s.ContainerRef == containerRef {
			out = append(out, s)
		}
	}
	return out
}

// List returns all registered sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the total number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CountFor returns the number of sessions bound to a container.
func (r *Registry) CountFor(containerRef string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perContainer[containerRef]
}
