package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const (
	testOrigin  = "http://localhost:8080"
	readTimeout = 2 * time.Second
)

// testServer is an App served by httptest with its hub running.
type testServer struct {
	app   *App
	http  *httptest.Server
	wsURL string
}

// newTestServer starts an App with a generous rate limit. customize may
// adjust the config before it is applied.
func newTestServer(t *testing.T, customize func(cfg *Config)) *testServer {
	t.Helper()

	cfg := NewConfig()
	cfg.RateLimit.Burst = 1000
	if customize != nil {
		customize(cfg)
	}

	app := NewApp(cfg)
	app.StartHub()
	ts := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		_ = app.hub.Shutdown(5 * time.Second)
		ts.Close()
		SetConfig(nil)
	})

	return &testServer{
		app:   app,
		http:  ts,
		wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (s *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(s.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func newOriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// dial opens a WebSocket connection with an allowed origin.
func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(s.wsURL, newOriginHeader(testOrigin))
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// wireEvent is an outbound frame as a client sees it.
type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (e wireEvent) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(e.Data, v); err != nil {
		t.Fatalf("Failed to decode %s data %s: %v", e.Event, e.Data, err)
	}
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

func readEvent(conn *websocket.Conn, timeout time.Duration) (wireEvent, error) {
	var ev wireEvent
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return ev, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return ev, err
	}
	err = json.Unmarshal(raw, &ev)
	return ev, err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// waitForEvent reads frames until one named event satisfies match (nil
// matches anything). Other frames are discarded.
func waitForEvent(t *testing.T, conn *websocket.Conn, event string, match func(wireEvent) bool) wireEvent {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		ev, err := readEvent(conn, time.Until(deadline))
		if err != nil {
			t.Fatalf("Waiting for %s: %v", event, err)
		}
		if ev.Event == event && (match == nil || match(ev)) {
			return ev
		}
	}
	t.Fatalf("Timed out waiting for %s", event)
	return wireEvent{}
}

// expectNoEvent fails if event arrives within timeout.
func expectNoEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		ev, err := readEvent(conn, remaining)
		if err != nil {
			if isTimeout(err) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			t.Fatalf("Unexpected error while waiting for absence of %s: %v", event, err)
		}
		if ev.Event == event {
			t.Fatalf("Expected no %s, got %s", event, ev.Data)
		}
	}
}

// joinAs connects and announces name, returning the connection and the
// connection id the server assigned. It consumes frames up to the
// joiner's room history.
func (s *testServer) joinAs(t *testing.T, name string) (*websocket.Conn, string) {
	t.Helper()
	conn := s.dial(t)
	emit(t, conn, chat.EventUserJoin, name)

	joined := waitForEvent(t, conn, chat.EventUserJoined, func(ev wireEvent) bool {
		var n chat.PresenceNotice
		return json.Unmarshal(ev.Data, &n) == nil && n.DisplayName == name
	})
	var notice chat.PresenceNotice
	joined.decode(t, &notice)
	waitForEvent(t, conn, chat.EventRoomMessages, nil)
	return conn, notice.ConnectionID
}

// switchRoom moves conn to room and waits for the confirmation.
func switchRoom(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	emit(t, conn, chat.EventJoinRoom, room)
	waitForEvent(t, conn, chat.EventJoinedRoom, nil)
}

// fakeHandler records what the hub hands it.
type fakeHandler struct {
	handled      []chat.Inbound
	disconnected []string
	err          error
}

func (f *fakeHandler) Handle(_ string, in chat.Inbound) error {
	f.handled = append(f.handled, in)
	return f.err
}

func (f *fakeHandler) Disconnect(connectionID string) {
	f.disconnected = append(f.disconnected, connectionID)
}
