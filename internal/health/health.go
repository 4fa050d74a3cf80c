// Package health exposes the operator-facing HTTP surface: a liveness
// ping and a status snapshot, routed with gorilla/mux the way the
// teacher's dashboard router was built, minus the browser-facing parts
// this engine has no use for.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Status is the JSON body served at /status.
type Status struct {
	UptimeSeconds      float64 `json:"uptime_seconds"`
	OpenPositions      int     `json:"open_positions"`
	WebsocketConnected bool    `json:"websocket_connected"`
	ReconnectAttempts  int     `json:"reconnect_attempts"`
	LastKlineAt        string  `json:"last_kline_at,omitempty"`
}

// StatusProvider supplies the live values rendered into Status.
type StatusProvider interface {
	OpenPositions() int
	WebsocketConnected() bool
	ReconnectAttempts() int
	LastKlineAt() time.Time
}

// Server serves /ping and /status on a configured port.
type Server struct {
	httpServer *http.Server
	provider   StatusProvider
	startedAt  time.Time
}

// New builds a Server listening on port, backed by provider for /status.
func New(port int, provider StatusProvider, startedAt time.Time) *Server {
	s := &Server{provider: provider, startedAt: startedAt}

	r := mux.NewRouter()
	r.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server within the given deadline.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "pong")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		UptimeSeconds:      time.Since(s.startedAt).Seconds(),
		OpenPositions:      s.provider.OpenPositions(),
		WebsocketConnected: s.provider.WebsocketConnected(),
		ReconnectAttempts:  s.provider.ReconnectAttempts(),
	}
	if t := s.provider.LastKlineAt(); !t.IsZero() {
		status.LastKlineAt = t.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
