// Package server coordinates client registration, event dispatch, and
// connection cleanup for the RoomChat WebSocket system via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const inboundBuffer = 256

// Hub manages all WebSocket client connections. Its Run loop is the only
// goroutine that calls into the EventHandler, so events are applied one at a
// time in arrival order. Hub implements chat.Sink.
type Hub struct {
	clients    map[string]*Client
	inbound    chan inboundEvent
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	handler EventHandler
	metrics *Metrics
	strict  bool

	// clients whose send buffer overflowed during the current event
	pendingMu sync.Mutex
	pending   []*Client
}

// NewHub creates a Hub. metrics may be nil. When strict is set, dropped
// events are answered with an error event to their sender.
func NewHub(metrics *Metrics, strict bool) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		inbound:    make(chan inboundEvent, inboundBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		metrics:    metrics,
		strict:     strict,
	}
}

// SetHandler installs the EventHandler. It must be called before Run.
func (h *Hub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// Register hands a new client to the Run loop. It returns false if the hub
// has already stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) submit(ev inboundEvent) bool {
	select {
	case h.inbound <- ev:
		return true
	case <-h.done:
		return false
	}
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Send implements chat.Sink. The event is encoded once and queued on each
// listed client without blocking.
func (h *Hub) Send(connectionIDs []string, ev chat.Outbound) {
	if len(connectionIDs) == 0 {
		return
	}
	payload, err := ev.Encode()
	if err != nil {
		slog.Error("failed to encode outbound event", "event", ev.Event, "error", err)
		return
	}

	for _, id := range connectionIDs {
		h.mutex.RLock()
		client := h.clients[id]
		h.mutex.RUnlock()
		if client == nil {
			continue
		}
		if !h.safeSend(client, payload) {
			h.markDropped(client)
		}
	}
}

// Broadcast implements chat.Sink.
func (h *Hub) Broadcast(ev chat.Outbound) {
	payload, err := ev.Encode()
	if err != nil {
		slog.Error("failed to encode outbound event", "event", ev.Event, "error", err)
		return
	}

	clients := h.getClientSnapshot()
	slog.Debug("broadcasting event", "event", ev.Event, "clients", len(clients))
	for _, client := range clients {
		if !h.safeSend(client, payload) {
			h.markDropped(client)
		}
	}
}

func (h *Hub) markDropped(client *Client) {
	h.pendingMu.Lock()
	h.pending = append(h.pending, client)
	h.pendingMu.Unlock()
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.clients[client.id] != client || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and inbound events. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				slog.Warn("received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
			h.disconnect(client.id)
			h.flushDropped()

		case ev := <-h.inbound:
			h.dispatch(ev)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.metrics.clientConnected()
	slog.Info("client registered", "conn", client.id, "remote", client.addr, "clients", clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if h.clients[client.id] != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.metrics.clientGone()
	slog.Info("client unregistered", "conn", client.id, "remote", client.addr, "clients", clientCount)
}

func (h *Hub) disconnect(connectionID string) {
	if h.handler != nil {
		h.handler.Disconnect(connectionID)
	}
}

// dispatch applies one inbound event and then disconnects any clients that
// could not keep up with the resulting fan-out.
func (h *Hub) dispatch(ev inboundEvent) {
	h.mutex.RLock()
	live := h.clients[ev.client.id] == ev.client
	h.mutex.RUnlock()
	if !live {
		return
	}

	err := ev.err
	if err == nil && h.handler != nil {
		err = h.handler.Handle(ev.client.id, ev.in)
	}

	if err != nil {
		h.metrics.event(metricEventName(ev.in.Event, err), resultDropped)
		slog.Debug("event dropped", "conn", ev.client.id, "event", ev.in.Event, "error", err)
		h.reportFailure(ev.client.id, ev.in.Event, err)
	} else {
		h.metrics.event(ev.in.Event, resultHandled)
	}

	h.flushDropped()
}

// metricEventName keeps client-chosen strings out of metric labels.
func metricEventName(event string, err error) string {
	switch {
	case errors.Is(err, chat.ErrMalformedEvent):
		return "malformed"
	case errors.Is(err, chat.ErrUnknownEvent):
		return "unknown"
	default:
		return event
	}
}

func (h *Hub) reportFailure(connectionID, event string, err error) {
	if !h.strict {
		return
	}
	h.Send([]string{connectionID}, chat.Outbound{
		Event: chat.EventError,
		Data:  chat.EventFailure{Event: event, Error: err.Error()},
	})
}

// flushDropped removes overflowing clients and disconnects them from the
// handler. Disconnecting produces more fan-out, which may overflow more
// clients, so it repeats until nothing is pending.
func (h *Hub) flushDropped() {
	for {
		h.pendingMu.Lock()
		batch := h.pending
		h.pending = nil
		h.pendingMu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, client := range h.removeFailedClients(batch) {
			h.disconnect(client.id)
		}
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages, closes
// their channels, and returns the ones actually removed.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) []*Client {
	h.mutex.Lock()
	var removed []*Client
	for _, client := range clientsToRemove {
		if h.clients[client.id] == client {
			delete(h.clients, client.id)
			client.closed = true
			removed = append(removed, client)
			slog.Warn("client removed due to full send buffer", "conn", client.id, "remote", client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, client := range removed {
		close(client.send)
		h.metrics.clientGone()
		h.metrics.clientDropped()
	}
	return removed
}

// shutdownClients closes every connection and send channel so both pumps
// of each client return.
func (h *Hub) shutdownClients() {
	slog.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		clients = append(clients, client)
		client.closed = true
		delete(h.clients, id)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		h.metrics.clientGone()
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				slog.Warn("error closing client connection", "remote", client.addr, "error", err)
			}
		}
	}

	slog.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	slog.Info("initiating hub shutdown")

	h.cancel()
	deadline := time.After(timeout)
	select {
	case <-h.done:
	case <-deadline:
		slog.Warn("hub run loop did not stop before timeout")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("hub shutdown completed")
		return nil
	case <-deadline:
		slog.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
