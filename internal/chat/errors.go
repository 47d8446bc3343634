package chat

import "errors"

// Errors returned by the core. The Router drops the offending event; the
// transport decides whether the origin connection hears about it.
var (
	ErrNotRegistered       = errors.New("connection has no identity")
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrRoomNotFound        = errors.New("room not found")
	ErrDuplicateRoom       = errors.New("room already exists")
	ErrMessageNotFound     = errors.New("message not found")
	ErrAlreadyRead         = errors.New("message already read by connection")
	ErrPayloadTooLarge     = errors.New("attachment exceeds size limit")
	ErrRecipientNotFound   = errors.New("recipient not connected")
	ErrUnknownEvent        = errors.New("unknown event")
	ErrMalformedEvent      = errors.New("malformed event payload")
	ErrInvalidDisplayName  = errors.New("display name is empty or too long")
	ErrInvalidRoomName     = errors.New("room name is empty or too long")
	ErrInvalidStatus       = errors.New("status must be online or away")
	ErrInvalidReaction     = errors.New("reaction kind is empty")
	ErrEmptyMessage        = errors.New("message has neither body nor attachment")
	ErrMessageTooLong      = errors.New("message exceeds maximum length")
)

// Suppressed reports whether err is a condition that only suppresses a
// broadcast and should not be treated as a failure.
func Suppressed(err error) bool {
	return errors.Is(err, ErrAlreadyRead) || errors.Is(err, ErrDuplicateRoom)
}
