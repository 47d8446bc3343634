// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, service info, and the built-in test page.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
)

// Version is reported by the info endpoint. It is overridden at build time.
var Version = "dev"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler upgrades the request, creates a Client with a fresh
// connection id and registers it with the hub, which starts its pumps.
func (a *App) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, a.hub, r.RemoteAddr)
	if !a.hub.Register(client) {
		slog.Warn("hub stopped; refusing connection", "remote", r.RemoteAddr)
		_ = conn.Close()
	}
}

type healthResponse struct {
	Status      string  `json:"status"`
	Timestamp   string  `json:"timestamp"`
	Uptime      float64 `json:"uptime"`
	Started     string  `json:"started"`
	Users       int     `json:"users"`
	Rooms       int     `json:"rooms"`
	Connections int     `json:"connections"`
}

// HealthHandler reports liveness with live counts.
func (a *App) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Timestamp:   now.UTC().Format(time.RFC3339),
		Uptime:      now.Sub(a.started).Seconds(),
		Started:     humanize.Time(a.started),
		Users:       len(a.router.Users()),
		Rooms:       len(a.router.Rooms()),
		Connections: a.hub.ClientCount(),
	})
}

type infoResponse struct {
	Message  string   `json:"message"`
	Version  string   `json:"version"`
	Features []string `json:"features"`
}

// InfoHandler describes the service.
func (a *App) InfoHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Message: "RoomChat server is running",
		Version: Version,
		Features: []string{
			"rooms",
			"private-messages",
			"typing-indicators",
			"reactions",
			"read-receipts",
			"presence",
			"attachments",
			"message-history",
		},
	})
}

// TestPageHandler serves an HTML test page for testing WebSocket functionality.
// It connects to /ws on the same host, announces a display name, and shows
// every event the server sends.
func TestPageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>RoomChat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { 
            border: 1px solid #ccc; 
            height: 300px; 
            padding: 10px; 
            overflow-y: scroll; 
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { 
            width: 300px; 
            padding: 5px; 
            margin-right: 10px;
        }
        button { 
            padding: 5px 15px; 
            background-color: #007cba; 
            color: white; 
            border: none; 
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { 
            margin: 10px 0; 
            padding: 5px; 
            border-radius: 3px;
        }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>RoomChat WebSocket Test</h1>
    
    <div id="status" class="status disconnected">Disconnected</div>
    
    <div>
        <input type="text" id="nameInput" placeholder="Display name" value="tester">
        <input type="text" id="roomInput" placeholder="Room" value="general">
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    
    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');
        const nameInput = document.getElementById('nameInput');
        const roomInput = document.getElementById('roomInput');

        function emit(event, data) {
            ws.send(JSON.stringify({event: event, data: data}));
        }

        function addMessage(message, type = 'info') {
            const messageElement = document.createElement('div');
            messageElement.style.margin = '5px 0';
            messageElement.style.padding = '3px';
            
            if (type === 'sent') {
                messageElement.style.color = 'blue';
            } else if (type === 'received') {
                messageElement.style.color = 'green';
            } else {
                messageElement.style.color = 'gray';
                messageElement.style.fontStyle = 'italic';
            }
            messageElement.textContent = message;
            
            messagesDiv.appendChild(messageElement);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            if (connected) {
                statusDiv.textContent = 'Connected';
                statusDiv.className = 'status connected';
                messageInput.disabled = false;
                sendButton.disabled = false;
                connectButton.textContent = 'Disconnect';
            } else {
                statusDiv.textContent = 'Disconnected';
                statusDiv.className = 'status disconnected';
                messageInput.disabled = true;
                sendButton.disabled = true;
                connectButton.textContent = 'Connect';
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function(event) {
                addMessage('Connected to RoomChat server');
                updateStatus(true);
                emit('user_join', nameInput.value.trim() || 'tester');
                const room = roomInput.value.trim();
                if (room && room !== 'general') {
                    emit('join_room', room);
                }
            };
            
            ws.onmessage = function(event) {
                try {
                    const msg = JSON.parse(event.data);
                    addMessage(msg.event + ': ' + JSON.stringify(msg.data), 'received');
                } catch (e) {
                    addMessage(event.data, 'received');
                }
            };
            
            ws.onclose = function(event) {
                addMessage('Connection closed');
                updateStatus(false);
                ws = null;
            };
            
            ws.onerror = function(error) {
                addMessage('Connection error: ' + error);
                updateStatus(false);
            };
        }

        function disconnect() {
            if (ws) {
                ws.close();
            }
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                disconnect();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                emit('send_message', {message: message, room: roomInput.value.trim() || 'general'});
                addMessage(message, 'sent');
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Warn("error writing HTML response", "remote", r.RemoteAddr, "error", err)
	}
}
