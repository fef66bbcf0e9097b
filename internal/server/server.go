// Package server exposes the application commands and the composite state
// over HTTP, with a websocket feed of every state transition.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/chaz8081/gostt-replay/internal/orchestrator"
	"github.com/chaz8081/gostt-replay/internal/stream"
)

const writeTimeout = 5 * time.Second

// Controller is the application core, satisfied by *orchestrator.Orchestrator.
type Controller interface {
	State() orchestrator.State
	Subscribe() *stream.Subscription[orchestrator.State]
	StartRecording()
	StopRecording()
	StartPlayback()
	StopPlayback()
	Reset()
}

// Server routes HTTP requests to a Controller.
type Server struct {
	ctl      Controller
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a Server.
func New(ctl Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ctl: ctl, logger: logger}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.ctl.State())
	})
	r.Get("/state/stream", s.streamState)

	r.Post("/recording/start", s.command(s.ctl.StartRecording))
	r.Post("/recording/stop", s.command(s.ctl.StopRecording))
	r.Post("/playback/start", s.command(s.ctl.StartPlayback))
	r.Post("/playback/stop", s.command(s.ctl.StopPlayback))
	r.Post("/reset", s.command(s.ctl.Reset))

	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server started", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// command acknowledges immediately; effects show up on the state stream.
func (s *Server) command(fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("http command", "path", r.URL.Path)
		fn()
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	}
}

func (s *Server) streamState(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("state stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.ctl.Subscribe()
	defer sub.Close()

	// The read side only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case state, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(state); err != nil {
				s.logger.Debug("state stream write failed", "error", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
