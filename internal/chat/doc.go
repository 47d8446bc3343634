// Package chat implements the real-time room and message routing core of
// RoomChat: which connection is who, which room each connection is in, the
// bounded per-room message history, typing state, and the Router that turns
// inbound events into mutations and outbound fan-out.
//
// The package has no transport dependencies. A transport feeds decoded
// Inbound events into Router.Handle and receives Outbound events through the
// Sink interface.
package chat
