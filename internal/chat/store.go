package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Retention policy. When a history grows past HistoryCompactAt messages it
// is cut down to the newest HistoryKeep in one step, leaving a visible gap.
const (
	HistoryCompactAt = 1000
	HistoryKeep      = 500
	// DefaultRecentLimit is how much history a joiner receives.
	DefaultRecentLimit = 50
)

type pairKey struct{ a, b string }

func newPairKey(x, y string) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

// Store is the in-memory message log: one bounded history per room and one
// per private pair. Room messages are indexed by id for reactions and read
// receipts; private messages are not.
type Store struct {
	mu      sync.RWMutex
	rooms   map[string][]*Message
	private map[pairKey][]*Message
	index   map[string]*Message
	now     func() time.Time
	newID   func() string

	compactions int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		rooms:   make(map[string][]*Message),
		private: make(map[pairKey][]*Message),
		index:   make(map[string]*Message),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Append stores msg and returns the stored copy. It assigns an id when
// missing, stamps the time, resets reactions and marks the sender as a
// reader. Private messages go to the sender/recipient pair log.
func (s *Store) Append(msg Message) (Message, error) {
	if !msg.IsPrivate && msg.Room == "" {
		return Message{}, fmt.Errorf("append: %w", ErrRoomNotFound)
	}
	if msg.IsPrivate && msg.RecipientID == "" {
		return Message{}, fmt.Errorf("append: %w", ErrRecipientNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := msg.clone()
	if stored.ID == "" {
		stored.ID = s.newID()
	}
	stored.Timestamp = s.now().UTC()
	stored.Reactions = make(map[string][]string)
	stored.ReadBy = []string{msg.SenderID}

	if stored.IsPrivate {
		stored.Room = ""
		key := newPairKey(stored.SenderID, stored.RecipientID)
		s.private[key] = compact(append(s.private[key], &stored), nil)
		return stored.clone(), nil
	}

	s.rooms[stored.Room] = compact(append(s.rooms[stored.Room], &stored), func(dropped []*Message) {
		s.compactions++
		for _, m := range dropped {
			delete(s.index, m.ID)
		}
	})
	s.index[stored.ID] = &stored
	return stored.clone(), nil
}

// compact applies the retention policy, calling onDrop with the discarded
// prefix when it fires.
func compact(history []*Message, onDrop func([]*Message)) []*Message {
	if len(history) <= HistoryCompactAt {
		return history
	}
	cut := len(history) - HistoryKeep
	if onDrop != nil {
		onDrop(history[:cut])
	}
	kept := make([]*Message, HistoryKeep)
	copy(kept, history[cut:])
	return kept
}

// Recent returns the newest limit messages of roomName in chronological
// order. A non-positive limit means DefaultRecentLimit.
func (s *Store) Recent(roomName string, limit int) []Message {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.rooms[roomName], limit)
}

// Conversation returns the newest limit private messages exchanged between
// the two connections.
func (s *Store) Conversation(x, y string, limit int) []Message {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.private[newPairKey(x, y)], limit)
}

func tail(history []*Message, limit int) []Message {
	start := len(history) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Message, 0, len(history)-start)
	for _, m := range history[start:] {
		out = append(out, m.clone())
	}
	return out
}

// FindByID looks a room message up across all rooms and returns it with
// the room holding it.
func (s *Store) FindByID(messageID string) (Message, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.index[messageID]
	if !ok {
		return Message{}, "", fmt.Errorf("find %s: %w", messageID, ErrMessageNotFound)
	}
	return m.clone(), m.Room, nil
}

// ToggleReaction adds displayName under kind, or removes it if already
// there. A kind left without names is deleted. It returns the resulting
// reactions and the room of the message.
func (s *Store) ToggleReaction(messageID, kind, displayName string) (map[string][]string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.index[messageID]
	if !ok {
		return nil, "", fmt.Errorf("react %s: %w", messageID, ErrMessageNotFound)
	}

	names := m.Reactions[kind]
	if i := indexOf(names, displayName); i >= 0 {
		names = append(names[:i:i], names[i+1:]...)
		if len(names) == 0 {
			delete(m.Reactions, kind)
		} else {
			m.Reactions[kind] = names
		}
	} else {
		m.Reactions[kind] = append(names, displayName)
	}
	return cloneReactions(m.Reactions), m.Room, nil
}

// MarkRead records that connectionID has read the message, which must be in
// roomName. It returns the new reader count, or ErrAlreadyRead when the
// connection was already counted.
func (s *Store) MarkRead(messageID, roomName, connectionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.index[messageID]
	if !ok || m.Room != roomName {
		return 0, fmt.Errorf("mark read %s in %q: %w", messageID, roomName, ErrMessageNotFound)
	}
	if indexOf(m.ReadBy, connectionID) >= 0 {
		return len(m.ReadBy), ErrAlreadyRead
	}
	m.ReadBy = append(m.ReadBy, connectionID)
	return len(m.ReadBy), nil
}

// Page returns the 1-indexed page of roomName's current history. Out of
// range pages are empty; Total is the current history length.
func (s *Store) Page(roomName string, page, size int) Page {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultRecentLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.rooms[roomName]
	total := len(history)
	totalPages := total / size
	if total%size != 0 {
		totalPages++
	}

	// compare page counts rather than offsets so huge values cannot overflow
	start := total
	if page-1 < totalPages {
		start = (page - 1) * size
	}
	end := start + min(size, total-start)

	items := make([]Message, 0, end-start)
	for _, m := range history[start:end] {
		items = append(items, m.clone())
	}
	return Page{
		Items:      items,
		Total:      total,
		Page:       page,
		TotalPages: totalPages,
	}
}

// Len returns the number of messages currently held for roomName.
func (s *Store) Len(roomName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomName])
}

// Compactions returns how many times a room history has been compacted.
func (s *Store) Compactions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compactions
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
