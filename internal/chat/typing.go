package chat

import (
	"fmt"
	"sort"
	"sync"
)

// TypingTracker keeps last-known typing state per connection. There is no
// server-side expiry: clients send typing=false after inactivity.
type TypingTracker struct {
	mu        sync.RWMutex
	states    map[string]TypingState
	registry  *Registry
	directory *Directory
}

// NewTypingTracker creates a tracker resolving names and rooms through the
// given registry and directory.
func NewTypingTracker(registry *Registry, directory *Directory) *TypingTracker {
	return &TypingTracker{
		states:    make(map[string]TypingState),
		registry:  registry,
		directory: directory,
	}
}

// SetTyping records or clears the typing state of connectionID in its
// current room and returns that room.
func (t *TypingTracker) SetTyping(connectionID string, isTyping bool) (string, error) {
	conn, ok := t.registry.Lookup(connectionID)
	if !ok {
		return "", fmt.Errorf("typing: %w", ErrNotRegistered)
	}
	room, ok := t.directory.CurrentRoomOf(connectionID)
	if !ok {
		return "", fmt.Errorf("typing: %w", ErrRoomNotFound)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if isTyping {
		t.states[connectionID] = TypingState{DisplayName: conn.DisplayName, Room: room}
	} else {
		delete(t.states, connectionID)
	}
	return room, nil
}

// Clear drops any typing state of connectionID and returns what it was.
func (t *TypingTracker) Clear(connectionID string) (TypingState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[connectionID]
	if ok {
		delete(t.states, connectionID)
	}
	return st, ok
}

// TypingIn returns the sorted display names typing in roomName. Entries of
// the connection exclude, if non-empty, are left out.
func (t *TypingTracker) TypingIn(roomName, exclude string) []string {
	t.mu.RLock()
	names := make([]string, 0)
	for id, st := range t.states {
		if st.Room == roomName && id != exclude {
			names = append(names, st.DisplayName)
		}
	}
	t.mu.RUnlock()

	sort.Strings(names)
	return names
}
