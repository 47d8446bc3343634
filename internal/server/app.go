package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// App wires the chat state, router, hub and HTTP surface of one server.
type App struct {
	cfg     Config
	state   chat.State
	router  *chat.Router
	hub     *Hub
	metrics *Metrics
	server  *http.Server
	started time.Time
}

// NewApp applies cfg (nil means defaults) and builds a ready to start App.
func NewApp(cfg *Config) *App {
	applied := SetConfig(cfg)

	state := chat.NewState(applied.Rooms...)
	metrics := NewMetrics(state.Registry.Len, state.Directory.Len)
	hub := NewHub(metrics, applied.StrictErrors)
	router := chat.NewRouter(state, hub,
		chat.WithMaxBodyLength(applied.MaxBodyLength),
		chat.WithMaxAttachmentSize(applied.MaxAttachmentSize),
		chat.WithLogger(slog.Default()),
	)
	hub.SetHandler(router)

	a := &App{
		cfg:     applied,
		state:   state,
		router:  router,
		hub:     hub,
		metrics: metrics,
		started: time.Now(),
	}
	a.server = CreateServer(applied.Port, a.Routes())
	return a
}

// Config returns the sanitized configuration in effect.
func (a *App) Config() Config {
	return a.cfg
}

// Hub returns the connection hub.
func (a *App) Hub() *Hub {
	return a.hub
}

// Router returns the chat router.
func (a *App) Router() *chat.Router {
	return a.router
}

// Handler returns the HTTP handler, for use with httptest.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// StartHub starts the hub's event loop in its own goroutine.
func (a *App) StartHub() {
	go a.hub.Run()
	slog.Info("hub started",
		"rooms", a.router.Rooms(),
		"max_frame", humanize.Bytes(uint64(a.cfg.MaxMessageSize)),
		"max_attachment", humanize.Bytes(uint64(a.cfg.MaxAttachmentSize)),
		"strict_errors", a.cfg.StrictErrors,
	)
}

// Run starts the hub and serves HTTP until Shutdown.
func (a *App) Run() error {
	a.StartHub()
	return StartServer(a.server)
}

// Shutdown stops accepting HTTP requests, then closes every client and
// waits for their pumps to finish.
func (a *App) Shutdown(ctx context.Context) error {
	httpErr := ShutdownServer(ctx, a.server)

	timeout := a.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	hubErr := a.hub.Shutdown(timeout)
	return errors.Join(httpErr, hubErr)
}
