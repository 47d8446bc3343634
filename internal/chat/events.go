package chat

import (
	"encoding/json"
	"fmt"
)

// Inbound event names as sent by clients.
const (
	EventUserJoin       = "user_join"
	EventJoinIdentity   = "join-identity"
	EventJoinRoom       = "join_room"
	EventCreateRoom     = "create_room"
	EventSendMessage    = "send_message"
	EventPrivateMessage = "private_message"
	EventTyping         = "typing"
	EventAddReaction    = "add_reaction"
	EventMarkAsRead     = "mark_as_read"
	EventUpdateStatus   = "update_status"
	EventReconnectUser  = "reconnect_user"
	EventPrivateHistory = "private_history"
	EventDisconnect     = "disconnect"
)

// Outbound event names. private_message is shared with the inbound set.
const (
	EventUserList        = "user_list"
	EventRoomList        = "room_list"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventRoomMessages    = "room_messages"
	EventJoinedRoom      = "joined_room"
	EventReceiveMessage  = "receive_message"
	EventTypingUsers     = "typing_users"
	EventMessageReaction = "message_reaction"
	EventMessageRead     = "message_read"
	EventReconnected     = "reconnected"
	EventPrivateMessages = "private_messages"
	EventError           = "error"
)

// Inbound is a decoded client frame. Data is decoded lazily per event.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is an event produced by the Router for delivery.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// DecodeInbound parses a raw frame into an Inbound envelope.
func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if in.Event == "" {
		return Inbound{}, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	return in, nil
}

// Encode marshals the envelope for the wire.
func (o Outbound) Encode() ([]byte, error) {
	return json.Marshal(o)
}

func decodePayload(in Inbound, v any) error {
	if len(in.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformedEvent, in.Event)
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, in.Event, err)
	}
	return nil
}

// SendMessagePayload is the data of send_message.
type SendMessagePayload struct {
	Message    string      `json:"message"`
	Room       string      `json:"room,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	FileData   *Attachment `json:"fileData,omitempty"`
}

func (p SendMessagePayload) attachment() *Attachment {
	if p.Attachment != nil {
		return p.Attachment
	}
	return p.FileData
}

// PrivateMessagePayload is the data of an inbound private_message.
type PrivateMessagePayload struct {
	To         string      `json:"to"`
	Message    string      `json:"message"`
	Attachment *Attachment `json:"attachment,omitempty"`
	FileData   *Attachment `json:"fileData,omitempty"`
}

func (p PrivateMessagePayload) attachment() *Attachment {
	if p.Attachment != nil {
		return p.Attachment
	}
	return p.FileData
}

// ReactionPayload is the data of add_reaction.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
}

// MarkReadPayload is the data of mark_as_read.
type MarkReadPayload struct {
	MessageID string `json:"messageId"`
	Room      string `json:"room"`
}

// ReconnectPayload is the data of reconnect_user.
type ReconnectPayload struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	LastRoom string `json:"lastRoom,omitempty"`
}

// PrivateHistoryPayload is the data of private_history.
type PrivateHistoryPayload struct {
	With  string `json:"with"`
	Limit int    `json:"limit,omitempty"`
}

// PresenceNotice is the data of user_joined and user_left.
type PresenceNotice struct {
	DisplayName  string `json:"username"`
	ConnectionID string `json:"id"`
}

// RoomMessages is the data of room_messages.
type RoomMessages struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
}

// PrivateMessages is the data of private_messages.
type PrivateMessages struct {
	With     string    `json:"with"`
	Messages []Message `json:"messages"`
}

// ReactionUpdate is the data of message_reaction.
type ReactionUpdate struct {
	MessageID string              `json:"messageId"`
	Reactions map[string][]string `json:"reactions"`
}

// ReadReceipt is the data of message_read.
type ReadReceipt struct {
	MessageID string `json:"messageId"`
	ReadBy    int    `json:"readBy"`
	Reader    string `json:"reader"`
}

// Reconnected is the data of reconnected.
type Reconnected struct {
	Room string `json:"room"`
}

// EventFailure is the data of error, sent only in strict mode.
type EventFailure struct {
	Event string `json:"event"`
	Error string `json:"error"`
}
