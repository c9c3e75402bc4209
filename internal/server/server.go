// Package server provides the HTTP API of the few-shot engine.
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/fewshot/internal/app"
	"github.com/ayusman/fewshot/internal/journal"
	"github.com/ayusman/fewshot/internal/server/api"
	"github.com/ayusman/fewshot/internal/session"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	// Commands receives POST /api/commands. The endpoint is absent when nil.
	Commands api.Poster
	// MaxClasses bounds the class of select-class commands; 0 leaves the
	// check to the session.
	MaxClasses int
	// StreamScale resizes the frames of /api/stream.
	StreamScale float64
	// Journal backs /api/runs. The endpoint is absent when nil.
	Journal *journal.Journal
	Log     logs.Log
}

// Status is the body of GET /api/status.
type Status struct {
	Output  session.Output `json:"output"`
	Timing  app.Timing     `json:"timing"`
	Updated time.Time      `json:"updated"`
}

// Server is the HTTP server. It is also an app.Sink: every published update
// becomes the current status and is broadcast on /api/predictions.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	hub    *Hub
	stream *StreamHandler

	mu     sync.RWMutex
	status *Status
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Log == nil {
		config.Log, _ = logs.NewLog()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		hub:    NewHub(config.Log),
		stream: NewStreamHandler(config.StreamScale, config.Log),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.Handle("/api/predictions", s.hub)
	s.mux.Handle("/api/stream", s.stream)

	if s.config.Commands != nil {
		s.mux.Handle("/api/commands", api.NewCommandHandler(s.config.Commands, s.config.MaxClasses))
	}

	if s.config.Journal != nil {
		runs := api.NewRunHandler(s.config.Journal)
		s.mux.Handle("/api/runs", runs)
		s.mux.Handle("/api/runs/", runs)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Hub returns the prediction broadcaster.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Stream returns the MJPEG handler.
func (s *Server) Stream() *StreamHandler {
	return s.stream
}

// Publish records the update as the current status, broadcasts it and feeds
// the frame to /api/stream.
func (s *Server) Publish(u app.Update) error {
	st := &Status{Output: u.Output, Timing: u.Timing, Updated: time.Now()}
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	if err := s.stream.Publish(u); err != nil {
		s.config.Log.Warnf("Stream: %v", err)
	}
	return s.hub.Broadcast(st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":  "ok",
		"uptime":  time.Since(s.start).String(),
		"clients": s.hub.Clients(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// handleStatus returns the last published update, or 503 before the first
// frame.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if st == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "No frame processed yet"})
		return
	}
	json.NewEncoder(w).Encode(st)
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

// Close disconnects websocket and stream clients.
func (s *Server) Close() {
	s.hub.Close()
	s.stream.Close()
}
