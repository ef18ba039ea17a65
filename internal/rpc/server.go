package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes a Dispatcher over HTTP.
type Server struct {
	settings   Settings
	dispatcher *Dispatcher
	logger     Logger

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	startTime time.Time
	ready     chan struct{}
	readyOnce sync.Once
}

// ServerOption customizes server construction.
type ServerOption func(*Server)

// WithServerLogger overrides the default no-op logger.
func WithServerLogger(l Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer prepares a server for dispatcher.
func NewServer(settings Settings, dispatcher *Dispatcher, opts ...ServerOption) *Server {
	settings.normalize()
	s := &Server{
		settings:   settings,
		dispatcher: dispatcher,
		logger:     nopLogger{},
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the HTTP routes without binding a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Post("/rpc", s.handleRPC)
	return r
}

// Start binds the TCP listener and begins serving HTTP traffic in the
// background.
func (s *Server) Start(ctx context.Context) error {
	server, listener, err := s.listen(ctx)
	if err != nil {
		return err
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("rpc: serve error: %v", err)
		}
	}()
	return nil
}

// Serve binds the listener and blocks until the server stops. A stop caused
// by Shutdown returns nil.
func (s *Server) Serve(ctx context.Context) error {
	server, listener, err := s.listen(ctx)
	if err != nil {
		return err
	}
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("rpc: serve: %w", err)
	}
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func (s *Server) listen(ctx context.Context) (*http.Server, net.Listener, error) {
	if s == nil {
		return nil, nil, fmt.Errorf("rpc: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil, nil, fmt.Errorf("rpc: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = time.Now()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.logger.Printf("rpc: listening on %s", listener.Addr().String())
	s.readyOnce.Do(func() { close(s.ready) })
	return server, listener, nil
}

// Shutdown stops accepting new connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// BaseURL returns the HTTP base URL of the running server.
func (s *Server) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.settings.URL()
	}
	return "http://" + s.listener.Addr().String()
}

type healthResponse struct {
	Status        string   `json:"status"`
	Resources     []string `json:"resources"`
	UptimeSeconds int64    `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	started := s.startTime
	s.mu.RUnlock()
	var uptime int64
	if !started.IsZero() {
		uptime = int64(time.Since(started).Seconds())
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ready",
		Resources:     s.dispatcher.Resources(),
		UptimeSeconds: uptime,
	})
}

// handleRPC accepts {resource, projectId, body}. Query parameters of the same
// names fill in whatever the JSON leaves empty.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"name": "BadRequestError", "message": "payload exceeds limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"name": "BadRequestError", "message": "unable to read body"})
		return
	}
	var req Request
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"name": "BadRequestError", "message": "invalid JSON"})
			return
		}
	}
	query := r.URL.Query()
	if req.Resource == "" {
		req.Resource = query.Get("resource")
	}
	if req.ProjectID == "" {
		req.ProjectID = query.Get("projectId")
	}

	result, err := s.dispatcher.Dispatch(r.Context(), req, true)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
