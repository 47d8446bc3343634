// Package server is the network edge of RoomChat.
//
// A single Hub owns every WebSocket client. Client read pumps decode frames
// into chat.Inbound events and queue them on the hub; the hub's Run loop
// feeds them one at a time to the chat.Router and fans the resulting
// outbound events back out through per-client send buffers. Slow clients
// whose buffers fill up are dropped and disconnected from the router.
//
// The same package serves the read-only HTTP API (message history, users,
// rooms), health and metrics endpoints, and a small browser test page.
// Configuration comes from defaults, an optional YAML file, and environment
// variables, in that order.
package server
