package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/audiolibrelab/disconium/internal/controller"
	"github.com/audiolibrelab/disconium/internal/protocol"
	"github.com/audiolibrelab/disconium/internal/result"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	shutdownTimeout     = 5 * time.Second
)

// Listener is the controller surface the HTTP API drives.
type Listener interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) controller.Snapshot
	Snapshot() controller.Snapshot
	Reset() error
}

// HistoryReader lists past attempts and discoveries.
type HistoryReader interface {
	Discoveries(ctx context.Context, limit int) ([]protocol.Discovery, error)
	Attempts(ctx context.Context, limit int) ([]protocol.AttemptSettled, error)
}

type Options struct {
	Bind    string
	Port    int
	History HistoryReader
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Ready backs /readyz; nil means always ready.
	Ready  func() error
	Logger *slog.Logger
}

// Server exposes the listening controller over HTTP.
type Server struct {
	listener Listener
	opts     Options
	log      *slog.Logger
	mux      *http.ServeMux
}

// StatusResponse represents the JSON response for the status endpoint
type StatusResponse struct {
	Success bool `json:"success"`
	controller.Snapshot
}

// ResultResponse is returned by /result.
type ResultResponse struct {
	Success   bool                    `json:"success"`
	Match     bool                    `json:"match"`
	Message   string                  `json:"message,omitempty"`
	ErrorKind string                  `json:"error_kind,omitempty"`
	Track     *result.NormalizedTrack `json:"track,omitempty"`
}

// HistoryResponse is returned by /history.
type HistoryResponse struct {
	Success     bool                      `json:"success"`
	Discoveries []protocol.Discovery      `json:"discoveries"`
	Attempts    []protocol.AttemptSettled `json:"attempts"`
}

// New creates a web server for listener.
func New(listener Listener, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{listener: listener, opts: opts, log: log, mux: http.NewServeMux()}

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/listen/start", s.handleStart)
	s.mux.HandleFunc("/listen/stop", s.handleStop)
	s.mux.HandleFunc("/listen/reset", s.handleReset)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/result", s.handleResult)
	s.mux.HandleFunc("/history", s.handleHistory)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)
	if opts.Metrics != nil {
		s.mux.Handle("/metrics", opts.Metrics)
	}
	return s
}

// Handler returns the routed handler wrapped in panic recovery.
func (s *Server) Handler() http.Handler {
	return s.recoveryMiddleware(s.mux)
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("Panic in handler", "path", r.URL.Path, "panic", err, "stack", string(debug.Stack()))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Bind, strconv.Itoa(s.opts.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	s.log.Info("Starting Disconium Web Server",
		"addr", addr,
		"local_url", fmt.Sprintf("http://%s:%d", localIP, s.opts.Port),
		"localhost_url", fmt.Sprintf("http://localhost:%d", s.opts.Port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info("Shutting down web server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown web server: %w", err)
	}
	return nil
}

// handleIndex serves a minimal page listing the API
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Disconium</title>
</head>
<body>
    <h1>Disconium</h1>
    <h2>API Endpoints:</h2>
    <ul>
        <li>POST /listen/start - Start listening</li>
        <li>POST /listen/stop - Stop and identify</li>
        <li>POST /listen/reset - Clear the last result</li>
        <li>GET /status - Current state</li>
        <li>GET /result - Last identified track</li>
        <li>GET /history - Recent discoveries</li>
    </ul>
</body>
</html>`

// handleStart begins a listening attempt (IDLE/RESULT/ERROR -> RECORDING)
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.listener.Start(r.Context()); err != nil {
		if errors.Is(err, controller.ErrBusy) {
			s.sendErrorResponse(w, http.StatusConflict, "Already listening", "operation", "listen_start")
			return
		}
		kind, _, message := controller.Describe(err)
		status := http.StatusInternalServerError
		switch kind {
		case controller.KindConfiguration:
			status = http.StatusBadRequest
		case controller.KindPermission:
			status = http.StatusServiceUnavailable
		}
		s.sendErrorResponse(w, status, message, "operation", "listen_start", "kind", kind)
		return
	}

	writeJSON(w, http.StatusAccepted, StatusResponse{Success: true, Snapshot: s.listener.Snapshot()})
}

// handleStop ends the attempt and waits for the settled state
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	// Recognition must finish even if the client goes away.
	snap := s.listener.Stop(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, StatusResponse{Success: snap.State != controller.StateError, Snapshot: snap})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.listener.Reset(); err != nil {
		s.sendErrorResponse(w, http.StatusConflict, "Cannot reset while listening", "operation", "listen_reset")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Success: true, Snapshot: s.listener.Snapshot()})
}

// handleStatus returns the current controller state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Success: true, Snapshot: s.listener.Snapshot()})
}

// handleResult returns the last identified track, if any
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	snap := s.listener.Snapshot()
	switch snap.State {
	case controller.StateResult:
		writeJSON(w, http.StatusOK, ResultResponse{
			Success: true,
			Match:   snap.Track != nil,
			Message: snap.Message,
			Track:   snap.Track,
		})
	case controller.StateError:
		writeJSON(w, http.StatusOK, ResultResponse{Success: false, Message: snap.Message, ErrorKind: snap.ErrorKind})
	default:
		s.sendErrorResponse(w, http.StatusNotFound, "No result available", "operation", "result", "state", snap.State)
	}
}

// handleHistory lists recent discoveries and attempts
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.opts.History == nil {
		s.sendErrorResponse(w, http.StatusNotFound, "History is disabled", "operation", "history")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendErrorResponse(w, http.StatusBadRequest, "limit must be a positive integer", "operation", "history", "limit", raw)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	discoveries, err := s.opts.History.Discoveries(r.Context(), limit)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read history: %v", err), "operation", "history")
		return
	}
	attempts, err := s.opts.History.Attempts(r.Context(), limit)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read history: %v", err), "operation", "history")
		return
	}
	if discoveries == nil {
		discoveries = []protocol.Discovery{}
	}
	if attempts == nil {
		attempts = []protocol.AttemptSettled{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Success: true, Discoveries: discoveries, Attempts: attempts})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// sendErrorResponse logs and sends a structured JSON error
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	s.log.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

// getLocalIP returns the local IP address for network access
func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
