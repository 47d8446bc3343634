// Package server wires HTTP handlers into a gorilla/mux router.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Routes returns the application's HTTP handler: the JSON API under /api
// with legacy aliases, health, info, metrics, the WebSocket endpoint and the
// test page.
func (a *App) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)
	api.HandleFunc("/messages/{room}", a.MessagesHandler).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/users", a.UsersHandler).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/rooms", a.RoomsHandler).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/messages/{room}", a.MessagesHandler).Methods(http.MethodGet)
	r.HandleFunc("/users", a.UsersHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms", a.RoomsHandler).Methods(http.MethodGet)

	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", a.WebSocketHandler)
	r.HandleFunc("/test", TestPageHandler).Methods(http.MethodGet)
	r.HandleFunc("/", a.InfoHandler).Methods(http.MethodGet)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "took", time.Since(start))
	})
}

// corsMiddleware lets allowed browser origins read the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isOriginAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
