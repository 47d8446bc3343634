package chat

import (
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"
)

// DefaultAvatarBase is the placeholder avatar service; the display name is
// the seed, so the same name always yields the same avatar.
const DefaultAvatarBase = "https://api.dicebear.com/7.x/avataaars/svg"

// AvatarFor derives the placeholder avatar reference for a display name.
func AvatarFor(displayName string) string {
	return DefaultAvatarBase + "?seed=" + url.QueryEscape(displayName)
}

// Registry maps live connection ids to their identity. It does not cascade
// removals into rooms or typing state; the Router does that.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	now   func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		now:   time.Now,
	}
}

// Register creates the identity for connectionID.
func (r *Registry) Register(connectionID, displayName string) (Connection, error) {
	return r.register(Connection{
		ID:          connectionID,
		DisplayName: displayName,
		AvatarRef:   AvatarFor(displayName),
	})
}

// register stores c with status online and a fresh join time. An empty
// AvatarRef is derived from the display name.
func (r *Registry) register(c Connection) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.ID]; exists {
		return Connection{}, fmt.Errorf("register %s: %w", c.ID, ErrDuplicateConnection)
	}
	if c.AvatarRef == "" {
		c.AvatarRef = AvatarFor(c.DisplayName)
	}
	c.Status = StatusOnline
	c.JoinedAt = r.now().UTC()
	r.conns[c.ID] = &c
	return c, nil
}

// Unregister removes connectionID and returns the identity it had.
func (r *Registry) Unregister(connectionID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	if !ok {
		return Connection{}, false
	}
	delete(r.conns, connectionID)
	return *c, true
}

// Lookup returns the identity of connectionID.
func (r *Registry) Lookup(connectionID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connectionID]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Snapshot lists every registered connection ordered by join time.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// SetStatus updates the status of connectionID. It reports false when the
// connection is not registered.
func (r *Registry) SetStatus(connectionID string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	if !ok {
		return false
	}
	c.Status = status
	return true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
