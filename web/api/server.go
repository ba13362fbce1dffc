// Package api exposes run history and live progress over HTTP: JSON
// endpoints for the journal, an SSE stream and a websocket endpoint for
// progress events. External UIs consume this boundary; no UI ships here.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/yamakatsunamamugi/sheetflow/internal/orchestrator"
	"github.com/yamakatsunamamugi/sheetflow/internal/runstore"
)

// RunStore is the slice of the journal the server needs
type RunStore interface {
	ListRuns(ctx context.Context, opts runstore.ListOptions) ([]*runstore.Run, error)
	GetRun(ctx context.Context, id string) (*runstore.Run, error)
}

// Server is the HTTP API server
type Server struct {
	runs   RunStore
	addr   string
	mux    *http.ServeMux
	sseHub *SSEHub
	wsHub  *WSHub
}

// NewServer creates a new API server
func NewServer(runs RunStore, addr string) *Server {
	s := &Server{
		runs:   runs,
		addr:   addr,
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
		wsHub:  NewWSHub(),
	}
	s.setupRoutes()
	go s.sseHub.Run()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.getRunHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/ws", s.wsHandler())
}

// Handler returns the server's routes, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return http.ListenAndServe(s.addr, s.mux)
}

// Broadcast pushes a progress event to every SSE and websocket client
func (s *Server) Broadcast(ev orchestrator.ProgressEvent) {
	s.sseHub.Broadcast(SSEEvent{Type: "progress", Data: ev})
	s.wsHub.Broadcast(ev)
}

// Pump forwards a sink's events to all clients until the channel closes
func (s *Server) Pump(events <-chan orchestrator.ProgressEvent) {
	go func() {
		for ev := range events {
			s.Broadcast(ev)
		}
	}()
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
