// Package gateway exposes the core's observability surface: health, loop
// status, Prometheus metrics, and a websocket stream of bus events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/events"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/metrics"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/worldloop"
)

// StatusSource yields the world loop's current state. nil is allowed when the
// loop is disabled.
type StatusSource interface {
	CurrentStatus() worldloop.Status
}

// Server is the status gateway.
type Server struct {
	runtime  *metrics.Runtime
	registry *prometheus.Registry
	bus      *events.Bus
	loop     StatusSource
	srv      *http.Server
}

// NewServer wires the gateway.
func NewServer(rt *metrics.Runtime, registry *prometheus.Registry, bus *events.Bus, loop StatusSource, port string) *Server {
	s := &Server{runtime: rt, registry: registry, bus: bus, loop: loop}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/events", s.handleEvents).Methods("GET")

	s.srv = &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the events stream writes indefinitely
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start listens in a goroutine. Errors other than a clean shutdown are
// logged.
func (s *Server) Start() {
	go func() {
		slog.Info("status gateway listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("status gateway failed", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusPayload is the /status response body.
type statusPayload struct {
	Loop    *worldloop.Status       `json:"loop,omitempty"`
	Runtime metrics.RuntimeSnapshot `json:"runtime"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	payload := statusPayload{Runtime: s.runtime.Snapshot()}
	if s.loop != nil {
		status := s.loop.CurrentStatus()
		payload.Loop = &status
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("gateway: write response", "error", err)
	}
}

// Addr returns the listen address, for logs and tests.
func (s *Server) Addr() string {
	return fmt.Sprintf("http://localhost%s", s.srv.Addr)
}
