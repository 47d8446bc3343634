package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// maxPageLimit caps the limit query parameter of the history endpoint.
const maxPageLimit = 1000

// MessagesHandler serves one page of a room's history. Unknown rooms yield
// an empty page.
func (a *App) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", chat.DefaultRecentLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	writeJSON(w, http.StatusOK, a.router.History(room, page, limit))
}

// UsersHandler serves the presence snapshot.
func (a *App) UsersHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.router.Users())
}

// RoomsHandler serves the room names in creation order.
func (a *App) RoomsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.router.Rooms())
}

// queryInt reads a positive integer query parameter.
func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("error writing JSON response", "error", err)
	}
}
