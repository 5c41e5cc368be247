// Package web serves the control API of a running sockpool service over
// HTTP as JSON, with health and readiness endpoints for supervisors.
// State-changing endpoints require a CSRF token from /api/csrf-token.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/metrics"
	"github.com/go-i2p/sockpool/lib/rpc"
)

// DefaultListenAddr is the gateway's default listen address.
const DefaultListenAddr = "127.0.0.1:8380"

// requestTimeout bounds the control call behind one HTTP request.
const requestTimeout = 5 * time.Second

// Server is the HTTP gateway.
type Server struct {
	httpServer *http.Server
	client     ControlClient
	csrf       *CSRFManager
	limiter    *RateLimiter
	logger     *slog.Logger

	mu       sync.Mutex
	running  bool
	addr     net.Addr
	stopCSRF chan struct{}
}

// Config holds gateway configuration.
type Config struct {
	// ListenAddr is the address to listen on.
	// Default: "127.0.0.1:8380"
	ListenAddr string
	// Control locates the service's control server.
	Control rpc.ClientConfig
	// RateLimit bounds requests per client IP.
	RateLimit RateLimitConfig
	// Logger is the structured logger
	Logger *slog.Logger
}

// New creates a gateway backed by a pooled control client. No connection is
// made until the first request.
func New(cfg Config) (*Server, error) {
	client, err := rpc.NewPooledClient(cfg.Control, rpc.DefaultPooledConnections)
	if err != nil {
		return nil, fmt.Errorf("control client: %w", err)
	}
	return NewWithClient(cfg, client), nil
}

// NewWithClient creates a gateway on top of client. The server owns client
// and closes it in Stop.
func NewWithClient(cfg Config, client ControlClient) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	s := &Server{
		client:  client,
		csrf:    NewCSRFManager(),
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  cfg.Logger,
	}
	s.limiter.SetOnReject(func(ip, path string) {
		log.WithField("ip", ip).WithField("path", path).Warn("web request rate limited")
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the gateway's routes with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	mux.HandleFunc("GET /api/stats", s.handleAPIStats)
	mux.HandleFunc("GET /api/groups", s.handleAPIGroups)
	mux.HandleFunc("GET /api/breakers", s.handleAPIBreakers)
	mux.HandleFunc("GET /api/config", s.handleAPIConfig)
	mux.HandleFunc("GET /api/csrf-token", s.handleAPICSRFToken)

	mux.HandleFunc("POST /api/pool/close-idle", s.handleAPICloseIdle)
	mux.HandleFunc("POST /api/groups/probe", s.handleAPIProbe)
	mux.HandleFunc("POST /api/breakers/reset", s.handleAPIBreakerReset)

	mux.HandleFunc("GET /api/health", s.handleAPIHealth)
	mux.HandleFunc("GET /healthz", s.handleAPILiveness)
	mux.HandleFunc("GET /readyz", s.handleAPIReadiness)

	// The gateway's own control pool.
	mux.Handle("GET /metrics", metrics.Handler())

	return s.withMiddleware(s.limiter.Middleware(s.csrf.Middleware(mux)))
}

// Start listens and serves in the background. A failed Start closes the
// control client.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("web server already running: %w", apperrors.ErrInvalidState)
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.limiter.Close()
		if closeErr := s.client.Close(); closeErr != nil {
			s.logger.Error("failed to close control client after start failure", "error", closeErr)
		}
		return fmt.Errorf("listen: %w", err)
	}
	s.running = true
	s.addr = ln.Addr()
	s.stopCSRF = s.csrf.StartCleanup(time.Hour)

	s.logger.Info("web server started", "addr", s.addr.String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the server down gracefully and closes the control client.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCSRF)
	s.mu.Unlock()

	shutdownErr := s.httpServer.Shutdown(ctx)
	s.limiter.Close()
	closeErr := s.client.Close()

	s.logger.Info("web server stopped")
	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close control client: %w", closeErr)
	}
	return nil
}

// withMiddleware wraps the handler with common middleware.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeControlError maps a control call failure onto an HTTP status.
func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	s.writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case rpc.IsRPCError(err, rpc.ErrCodeNotFound):
		return http.StatusNotFound
	case rpc.IsRPCError(err, rpc.ErrCodeInvalidParams):
		return http.StatusBadRequest
	case rpc.IsRPCError(err, rpc.ErrCodeUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), apperrors.IsTimeout(err):
		return http.StatusGatewayTimeout
	case apperrors.IsConnection(err), apperrors.IsClosed(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
