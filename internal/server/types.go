package server

import (
	"strings"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// EventHandler applies decoded client events. *chat.Router satisfies it.
type EventHandler interface {
	Handle(connectionID string, in chat.Inbound) error
	Disconnect(connectionID string)
}

// inboundEvent pairs a decoded frame with the client that sent it. err is
// set when the frame could not be decoded.
type inboundEvent struct {
	client *Client
	in     chat.Inbound
	err    error
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
