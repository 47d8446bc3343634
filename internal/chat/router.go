package chat

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"
)

// Validation limits.
const (
	MaxDisplayNameLength     = 50
	MaxRoomNameLength        = 100
	DefaultMaxBodyLength     = 5000
	DefaultMaxAttachmentSize = 5 << 20
)

// Sink delivers outbound events. Implementations must not block and must
// not call back into the Router.
type Sink interface {
	// Send delivers ev to each listed connection.
	Send(connectionIDs []string, ev Outbound)
	// Broadcast delivers ev to every live connection, with or without an
	// identity.
	Broadcast(ev Outbound)
}

// State bundles the stores the Router orchestrates.
type State struct {
	Registry  *Registry
	Directory *Directory
	Typing    *TypingTracker
	Store     *Store
}

// NewState creates empty stores with DefaultRoom plus bootstrapRooms.
func NewState(bootstrapRooms ...string) State {
	reg := NewRegistry()
	dir := NewDirectory(reg, bootstrapRooms...)
	return State{
		Registry:  reg,
		Directory: dir,
		Typing:    NewTypingTracker(reg, dir),
		Store:     NewStore(),
	}
}

// Option configures a Router.
type Option func(*Router)

// WithMaxBodyLength caps message bodies, counted in runes.
func WithMaxBodyLength(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxBody = n
		}
	}
}

// WithMaxAttachmentSize caps the declared size of attachments.
func WithMaxAttachmentSize(n int64) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxAttachment = n
		}
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// Router validates inbound events against the stores, applies them and
// decides who hears about the result. Events are handled one at a time so
// that fan-out order matches store order.
type Router struct {
	mu    sync.Mutex
	state State
	sink  Sink

	maxBody       int
	maxAttachment int64
	log           *slog.Logger
}

// NewRouter creates a Router over state delivering through sink.
func NewRouter(state State, sink Sink, opts ...Option) *Router {
	r := &Router{
		state:         state,
		sink:          sink,
		maxBody:       DefaultMaxBodyLength,
		maxAttachment: DefaultMaxAttachmentSize,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle applies one inbound event from connectionID. A non-nil error means
// the event was dropped; nothing was mutated or delivered.
func (r *Router) Handle(connectionID string, in Inbound) error {
	if in.Event == EventDisconnect {
		r.Disconnect(connectionID)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	switch in.Event {
	case EventUserJoin, EventJoinIdentity:
		err = r.joinIdentity(connectionID, in)
	case EventJoinRoom:
		err = r.switchRoom(connectionID, in)
	case EventCreateRoom:
		err = r.createRoom(connectionID, in)
	case EventSendMessage:
		err = r.sendMessage(connectionID, in)
	case EventPrivateMessage:
		err = r.sendPrivate(connectionID, in)
	case EventTyping:
		err = r.setTyping(connectionID, in)
	case EventAddReaction:
		err = r.addReaction(connectionID, in)
	case EventMarkAsRead:
		err = r.markRead(connectionID, in)
	case EventUpdateStatus:
		err = r.updateStatus(connectionID, in)
	case EventReconnectUser:
		err = r.reconnect(connectionID, in)
	case EventPrivateHistory:
		err = r.privateHistory(connectionID, in)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, in.Event)
	}
	if Suppressed(err) {
		return nil
	}
	return err
}

// Disconnect removes every trace of connectionID. It is idempotent.
func (r *Router) Disconnect(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, registered := r.state.Registry.Unregister(connectionID)
	r.state.Directory.Leave(connectionID)
	typing, wasTyping := r.state.Typing.Clear(connectionID)
	if !registered {
		return
	}

	r.sink.Broadcast(Outbound{Event: EventUserLeft, Data: PresenceNotice{DisplayName: conn.DisplayName, ConnectionID: conn.ID}})
	r.sink.Broadcast(Outbound{Event: EventUserList, Data: r.state.Registry.Snapshot()})
	if wasTyping {
		r.announceTyping(typing.Room, "")
	}
	r.log.Info("user left", "conn", connectionID, "name", conn.DisplayName)
}

// Users returns the presence snapshot.
func (r *Router) Users() []Connection {
	return r.state.Registry.Snapshot()
}

// Rooms returns the room names in creation order.
func (r *Router) Rooms() []string {
	return r.state.Directory.ListRooms()
}

// History returns one page of roomName's history.
func (r *Router) History(roomName string, page, size int) Page {
	return r.state.Store.Page(roomName, page, size)
}

func (r *Router) identity(connectionID string) (Connection, error) {
	conn, ok := r.state.Registry.Lookup(connectionID)
	if !ok {
		return Connection{}, ErrNotRegistered
	}
	return conn, nil
}

func (r *Router) joinIdentity(connectionID string, in Inbound) error {
	var name string
	if err := decodePayload(in, &name); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if err := validateDisplayName(name); err != nil {
		return err
	}

	conn, err := r.state.Registry.Register(connectionID, name)
	if err != nil {
		return err
	}
	if _, err := r.state.Directory.Join(connectionID, DefaultRoom); err != nil {
		r.state.Registry.Unregister(connectionID)
		return err
	}

	r.sink.Broadcast(Outbound{Event: EventUserList, Data: r.state.Registry.Snapshot()})
	r.sink.Broadcast(Outbound{Event: EventRoomList, Data: r.state.Directory.ListRooms()})
	r.sink.Broadcast(Outbound{Event: EventUserJoined, Data: PresenceNotice{DisplayName: conn.DisplayName, ConnectionID: conn.ID}})
	r.sendHistory(connectionID, DefaultRoom)
	r.log.Info("user joined", "conn", connectionID, "name", name)
	return nil
}

func (r *Router) reconnect(connectionID string, in Inbound) error {
	var p ReconnectPayload
	if err := decodePayload(in, &p); err != nil {
		return err
	}
	name := strings.TrimSpace(p.Username)
	if err := validateDisplayName(name); err != nil {
		return err
	}

	if _, err := r.state.Registry.register(Connection{ID: connectionID, DisplayName: name, AvatarRef: p.Avatar}); err != nil {
		return err
	}
	room := p.LastRoom
	if !r.state.Directory.Exists(room) {
		room = DefaultRoom
	}
	if _, err := r.state.Directory.Join(connectionID, room); err != nil {
		r.state.Registry.Unregister(connectionID)
		return err
	}

	r.sink.Broadcast(Outbound{Event: EventUserList, Data: r.state.Registry.Snapshot()})
	r.sink.Send([]string{connectionID}, Outbound{Event: EventReconnected, Data: Reconnected{Room: room}})
	r.sendHistory(connectionID, room)
	r.log.Info("user reconnected", "conn", connectionID, "name", name, "room", room)
	return nil
}

func (r *Router) switchRoom(connectionID string, in Inbound) error {
	if _, err := r.identity(connectionID); err != nil {
		return err
	}
	var room string
	if err := decodePayload(in, &room); err != nil {
		return err
	}

	if _, err := r.state.Directory.Join(connectionID, room); err != nil {
		return err
	}
	if st, wasTyping := r.state.Typing.Clear(connectionID); wasTyping {
		r.announceTyping(st.Room, "")
	}

	r.sendHistory(connectionID, room)
	r.sink.Send([]string{connectionID}, Outbound{Event: EventJoinedRoom, Data: room})
	r.log.Debug("user switched room", "conn", connectionID, "room", room)
	return nil
}

func (r *Router) createRoom(connectionID string, in Inbound) error {
	conn, err := r.identity(connectionID)
	if err != nil {
		return err
	}
	var name string
	if err := decodePayload(in, &name); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" || utf8.RuneCountInString(name) > MaxRoomNameLength {
		return ErrInvalidRoomName
	}

	if err := r.state.Directory.CreateRoom(name); err != nil {
		return err
	}
	r.sink.Broadcast(Outbound{Event: EventRoomList, Data: r.state.Directory.ListRooms()})
	r.log.Info("room created", "room", name, "by", conn.DisplayName)
	return nil
}

func (r *Router) sendMessage(connectionID string, in Inbound) error {
	conn, err := r.identity(connectionID)
	if err != nil {
		return err
	}
	var p SendMessagePayload
	if err := decodePayload(in, &p); err != nil {
		return err
	}
	att := p.attachment()
	if err := r.validateContent(p.Message, att); err != nil {
		return err
	}

	room := p.Room
	if room == "" || !r.state.Directory.Exists(room) {
		current, ok := r.state.Directory.CurrentRoomOf(connectionID)
		if !ok {
			current = DefaultRoom
		}
		room = current
	}

	msg, err := r.state.Store.Append(Message{
		SenderID:          conn.ID,
		SenderDisplayName: conn.DisplayName,
		SenderAvatarRef:   conn.AvatarRef,
		Body:              p.Message,
		Room:              room,
		Attachment:        att,
	})
	if err != nil {
		return err
	}
	r.sink.Send(r.state.Directory.MembersOf(room), Outbound{Event: EventReceiveMessage, Data: msg})
	r.log.Debug("message sent", "conn", connectionID, "room", room, "id", msg.ID)
	return nil
}

func (r *Router) sendPrivate(connectionID string, in Inbound) error {
	conn, err := r.identity(connectionID)
	if err != nil {
		return err
	}
	var p PrivateMessagePayload
	if err := decodePayload(in, &p); err != nil {
		return err
	}
	if _, ok := r.state.Registry.Lookup(p.To); !ok {
		return fmt.Errorf("private message to %q: %w", p.To, ErrRecipientNotFound)
	}
	att := p.attachment()
	if err := r.validateContent(p.Message, att); err != nil {
		return err
	}

	msg, err := r.state.Store.Append(Message{
		SenderID:          conn.ID,
		SenderDisplayName: conn.DisplayName,
		SenderAvatarRef:   conn.AvatarRef,
		Body:              p.Message,
		RecipientID:       p.To,
		IsPrivate:         true,
		Attachment:        att,
	})
	if err != nil {
		return err
	}

	targets := []string{conn.ID}
	if p.To != conn.ID {
		targets = append(targets, p.To)
	}
	r.sink.Send(targets, Outbound{Event: EventPrivateMessage, Data: msg})
	r.log.Debug("private message sent", "from", conn.ID, "to", p.To)
	return nil
}

func (r *Router) privateHistory(connectionID string, in Inbound) error {
	if _, err := r.identity(connectionID); err != nil {
		return err
	}
	var p PrivateHistoryPayload
	if err := decodePayload(in, &p); err != nil {
		return err
	}
	if p.With == "" {
		return fmt.Errorf("%w: private_history needs a peer", ErrMalformedEvent)
	}
	limit := p.Limit
	if limit > HistoryCompactAt {
		limit = HistoryCompactAt
	}

	r.sink.Send([]string{connectionID}, Outbound{
		Event: EventPrivateMessages,
		Data:  PrivateMessages{With: p.With, Messages: r.state.Store.Conversation(connectionID, p.With, limit)},
	})
	return nil
}

func (r *Router) setTyping(connectionID string, in Inbound) error {
	if _, err := r.identity(connectionID); err != nil {
		return err
	}
	var isTyping bool
	if err := decodePayload(in, &isTyping); err != nil {
		return err
	}

	room, err := r.state.Typing.SetTyping(connectionID, isTyping)
	if err != nil {
		return err
	}
	r.announceTyping(room, connectionID)
	return nil
}

// announceTyping sends every member of room except skip the names typing
// there, leaving out the recipient's own entry.
func (r *Router) announceTyping(room, skip string) {
	for _, member := range r.state.Directory.MembersOf(room) {
		if member == skip {
			continue
		}
		r.sink.Send([]string{member}, Outbound{Event: EventTypingUsers, Data: r.state.Typing.TypingIn(room, member)})
	}
}

func (r *Router) addReaction(connectionID string, in Inbound) error {
	conn, err := r.identity(connectionID)
	if err != nil {
		return err
	}
	var p ReactionPayload
	if err := decodePayload(in, &p); err != nil {
		return err
	}
	if p.Reaction == "" {
		return ErrInvalidReaction
	}

	reactions, room, err := r.state.Store.ToggleReaction(p.MessageID, p.Reaction, conn.DisplayName)
	if err != nil {
		return err
	}
	r.sink.Send(r.state.Directory.MembersOf(room), Outbound{
		Event: EventMessageReaction,
		Data:  ReactionUpdate{MessageID: p.MessageID, Reactions: reactions},
	})
	return nil
}

func (r *Router) markRead(connectionID string, in Inbound) error {
	conn, err := r.identity(connectionID)
	if err != nil {
		return err
	}
	var p MarkReadPayload
	if err := decodePayload(in, &p); err != nil {
		return err
	}

	count, err := r.state.Store.MarkRead(p.MessageID, p.Room, connectionID)
	if err != nil {
		return err
	}
	r.sink.Send(without(r.state.Directory.MembersOf(p.Room), connectionID), Outbound{
		Event: EventMessageRead,
		Data:  ReadReceipt{MessageID: p.MessageID, ReadBy: count, Reader: conn.DisplayName},
	})
	return nil
}

func (r *Router) updateStatus(connectionID string, in Inbound) error {
	if _, err := r.identity(connectionID); err != nil {
		return err
	}
	var status Status
	if err := decodePayload(in, &status); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	r.state.Registry.SetStatus(connectionID, status)
	r.sink.Broadcast(Outbound{Event: EventUserList, Data: r.state.Registry.Snapshot()})
	return nil
}

func (r *Router) sendHistory(connectionID, room string) {
	r.sink.Send([]string{connectionID}, Outbound{
		Event: EventRoomMessages,
		Data:  RoomMessages{Room: room, Messages: r.state.Store.Recent(room, DefaultRecentLimit)},
	})
}

func (r *Router) validateContent(body string, att *Attachment) error {
	if body == "" && att == nil {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > r.maxBody {
		return ErrMessageTooLong
	}
	if att != nil && att.Size > r.maxAttachment {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, att.Size)
	}
	return nil
}

func validateDisplayName(name string) error {
	if name == "" || utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return ErrInvalidDisplayName
	}
	return nil
}

func without(ids []string, skip string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}
