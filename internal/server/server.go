// Package server provides the HTTP REST API for label scans, chat and health
// profiles.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/jonathan/labelscan/internal/chat"
	"github.com/jonathan/labelscan/internal/pipeline"
	"github.com/jonathan/labelscan/internal/server/middleware"
	"github.com/jonathan/labelscan/internal/types"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; batch requests carry at most 20 labels.
const maxBodyBytes = 1 << 20

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	pipeline   *pipeline.Service
	chat       *chat.Service
	scans      types.ScanStore
	profiles   types.ProfileStore
	logger     *zap.Logger
	origins    []string
	closers    []io.Closer
}

// Config holds the server's collaborators and listener settings.
type Config struct {
	Port           int
	AllowedOrigins []string

	Pipeline *pipeline.Service
	Chat     *chat.Service
	Scans    types.ScanStore
	Profiles types.ProfileStore
	Tokens   middleware.TokenValidator
	Logger   *zap.Logger

	// Closers are released in order after shutdown.
	Closers []io.Closer
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Pipeline == nil:
		return nil, fmt.Errorf("server: pipeline service is required")
	case cfg.Chat == nil:
		return nil, fmt.Errorf("server: chat service is required")
	case cfg.Scans == nil || cfg.Profiles == nil:
		return nil, fmt.Errorf("server: scan and profile stores are required")
	case cfg.Tokens == nil:
		return nil, fmt.Errorf("server: token validator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		pipeline: cfg.Pipeline,
		chat:     cfg.Chat,
		scans:    cfg.Scans,
		profiles: cfg.Profiles,
		logger:   logger,
		origins:  cfg.AllowedOrigins,
		closers:  cfg.Closers,
	}

	auth := middleware.AuthMiddleware(cfg.Tokens)
	protected := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	// Scans
	mux.Handle("POST /scans/analyze", protected(s.handleAnalyze))
	mux.Handle("POST /scans/analyze/stream", protected(s.handleAnalyzeStream))
	mux.Handle("POST /scans/analyze/batch", protected(s.handleAnalyzeBatch))
	mux.Handle("GET /scans", protected(s.handleListScans))
	mux.Handle("GET /scans/{id}", protected(s.handleGetScan))
	mux.Handle("DELETE /scans/{id}", protected(s.handleDeleteScan))

	// Chat
	mux.Handle("GET /chat", protected(s.handleChatHistory))
	mux.Handle("POST /chat", protected(s.handleChatSend))
	mux.Handle("GET /chat/{scan_id}", protected(s.handleChatHistory))
	mux.Handle("POST /chat/{scan_id}", protected(s.handleChatSend))

	// Health profile
	mux.Handle("GET /health-profile", protected(s.handleGetProfile))
	mux.Handle("PUT /health-profile", protected(s.handlePutProfile))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(s.withCORS(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // streamed analyses wait on the model
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		if err != nil {
			s.closeAll()
			return fmt.Errorf("server error: %w", err)
		}
	}
	s.logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.closeAll()
	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) closeAll() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Warn("close failed", zap.Error(err))
		}
	}
}

// withCORS adds CORS headers for the configured origins.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if len(s.origins) == 0 || slices.Contains(s.origins, "*") {
		return "*"
	}
	if origin != "" && slices.Contains(s.origins, origin) {
		return origin
	}
	return ""
}

// statusRecorder captures the response status for request logging. It keeps
// Flush so SSE handlers still stream through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// fail maps err onto the error taxonomy and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if retry := retryAfterSeconds(err); retry != "" {
		w.Header().Set("Retry-After", retry)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	s.errorResponse(w, status, publicMessage(err, status))
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}
