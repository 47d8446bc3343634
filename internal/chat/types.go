package chat

import (
	"encoding/json"
	"time"
)

// Status is the presence status of a connection.
type Status string

// Presence statuses.
const (
	StatusOnline Status = "online"
	StatusAway   Status = "away"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusOnline || s == StatusAway
}

// Connection is the identity attached to a live connection.
type Connection struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"username"`
	AvatarRef   string    `json:"avatar"`
	Status      Status    `json:"status"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Attachment describes an already uploaded file referenced by a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"type"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a stored chat message. Only Reactions and ReadBy change after
// creation; the sender fields are a snapshot taken at send time.
type Message struct {
	ID                string
	SenderID          string
	SenderDisplayName string
	SenderAvatarRef   string
	Body              string
	Room              string
	RecipientID       string
	IsPrivate         bool
	Timestamp         time.Time
	Attachment        *Attachment
	Reactions         map[string][]string
	ReadBy            []string
}

type messageJSON struct {
	ID          string              `json:"id"`
	Sender      string              `json:"sender"`
	SenderID    string              `json:"senderId"`
	Avatar      string              `json:"senderAvatar"`
	Body        string              `json:"message"`
	Room        string              `json:"room,omitempty"`
	RecipientID string              `json:"recipientId,omitempty"`
	IsPrivate   bool                `json:"isPrivate,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
	Reactions   map[string][]string `json:"reactions"`
	ReadBy      []string            `json:"readBy"`
	FileURL     string              `json:"fileUrl,omitempty"`
	FileName    string              `json:"fileName,omitempty"`
	FileType    string              `json:"fileType,omitempty"`
}

// MarshalJSON flattens the attachment into fileUrl/fileName/fileType, which
// is the shape browser clients render.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:          m.ID,
		Sender:      m.SenderDisplayName,
		SenderID:    m.SenderID,
		Avatar:      m.SenderAvatarRef,
		Body:        m.Body,
		Room:        m.Room,
		RecipientID: m.RecipientID,
		IsPrivate:   m.IsPrivate,
		Timestamp:   m.Timestamp,
		Reactions:   m.Reactions,
		ReadBy:      m.ReadBy,
	}
	if out.Reactions == nil {
		out.Reactions = map[string][]string{}
	}
	if out.ReadBy == nil {
		out.ReadBy = []string{}
	}
	if m.Attachment != nil {
		out.FileURL = m.Attachment.URL
		out.FileName = m.Attachment.Name
		out.FileType = m.Attachment.MimeType
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = Message{
		ID:                in.ID,
		SenderID:          in.SenderID,
		SenderDisplayName: in.Sender,
		SenderAvatarRef:   in.Avatar,
		Body:              in.Body,
		Room:              in.Room,
		RecipientID:       in.RecipientID,
		IsPrivate:         in.IsPrivate,
		Timestamp:         in.Timestamp,
		Reactions:         in.Reactions,
		ReadBy:            in.ReadBy,
	}
	if in.FileURL != "" || in.FileName != "" {
		m.Attachment = &Attachment{URL: in.FileURL, Name: in.FileName, MimeType: in.FileType}
	}
	return nil
}

// clone returns a deep copy safe to hand out while the original keeps
// receiving reaction and read-receipt updates.
func (m *Message) clone() Message {
	c := *m
	c.Reactions = cloneReactions(m.Reactions)
	c.ReadBy = append([]string(nil), m.ReadBy...)
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	return c
}

func cloneReactions(r map[string][]string) map[string][]string {
	out := make(map[string][]string, len(r))
	for kind, names := range r {
		out[kind] = append([]string(nil), names...)
	}
	return out
}

// TypingState is the transient record of a connection that is typing.
type TypingState struct {
	DisplayName string
	Room        string
}

// Page is one page of a room's history.
type Page struct {
	Items      []Message `json:"messages"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	TotalPages int       `json:"totalPages"`
}
