package chat

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultRoom exists from process start and is where new identities land.
const DefaultRoom = "general"

// Directory tracks rooms and their members. A connection is a member of at
// most one room; Join moves it, it never adds a second membership.
type Directory struct {
	mu       sync.RWMutex
	order    []string
	members  map[string]map[string]struct{}
	current  map[string]string
	registry *Registry
}

// NewDirectory creates a Directory holding DefaultRoom followed by the
// given bootstrap rooms. Duplicates and empty names are skipped.
func NewDirectory(registry *Registry, bootstrap ...string) *Directory {
	d := &Directory{
		members:  make(map[string]map[string]struct{}),
		current:  make(map[string]string),
		registry: registry,
	}
	d.add(DefaultRoom)
	for _, name := range bootstrap {
		if name != "" {
			d.add(name)
		}
	}
	return d
}

func (d *Directory) add(name string) bool {
	if _, exists := d.members[name]; exists {
		return false
	}
	d.order = append(d.order, name)
	d.members[name] = make(map[string]struct{})
	return true
}

// ListRooms returns room names in creation order.
func (d *Directory) ListRooms() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...)
}

// Exists reports whether the room has been created.
func (d *Directory) Exists(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.members[name]
	return ok
}

// CreateRoom creates name. It returns ErrDuplicateRoom, which callers treat
// as success, when the room already exists.
func (d *Directory) CreateRoom(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.add(name) {
		return fmt.Errorf("create room %q: %w", name, ErrDuplicateRoom)
	}
	return nil
}

// Join moves connectionID into roomName and returns the room it left, if
// any. The connection must be registered and the room must exist.
func (d *Directory) Join(connectionID, roomName string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.registry.Lookup(connectionID); !ok {
		return "", fmt.Errorf("join %q: %w", roomName, ErrNotRegistered)
	}
	target, ok := d.members[roomName]
	if !ok {
		return "", fmt.Errorf("join %q: %w", roomName, ErrRoomNotFound)
	}

	previous := d.current[connectionID]
	if previous != "" {
		delete(d.members[previous], connectionID)
	}
	target[connectionID] = struct{}{}
	d.current[connectionID] = roomName
	return previous, nil
}

// Leave removes connectionID from its room and returns that room.
func (d *Directory) Leave(connectionID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, ok := d.current[connectionID]
	if !ok {
		return "", false
	}
	delete(d.members[room], connectionID)
	delete(d.current, connectionID)
	return room, true
}

// MembersOf returns the sorted member ids of roomName.
func (d *Directory) MembersOf(roomName string) []string {
	d.mu.RLock()
	members := d.members[roomName]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	d.mu.RUnlock()

	sort.Strings(out)
	return out
}

// CurrentRoomOf returns the room connectionID is in.
func (d *Directory) CurrentRoomOf(connectionID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.current[connectionID]
	return room, ok
}

// Len returns the number of rooms.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}
