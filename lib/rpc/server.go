package rpc

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

const (
	// AuthTokenLength is the length of the shared secret in bytes.
	AuthTokenLength = 32

	// MaxRequestSize bounds one request line.
	MaxRequestSize = 1024 * 1024

	// IdleTimeout closes connections that send nothing for this long.
	IdleTimeout = 2 * time.Minute

	// WriteTimeout bounds writing one response.
	WriteTimeout = 10 * time.Second

	// DefaultHandlerTimeout bounds one handler call.
	DefaultHandlerTimeout = 30 * time.Second
)

// Handler serves one method.
type Handler func(ctx context.Context, params json.RawMessage) (any, *Error)

// ServerConfig configures a Server.
type ServerConfig struct {
	// UnixSocketPath is where the Unix socket is created. Clients on the
	// socket are trusted; the socket file is mode 0600.
	UnixSocketPath string
	// TCPAddress optionally listens on TCP. TCP clients must authenticate
	// when an auth file is configured.
	TCPAddress string
	// AuthFile holds the hex-encoded shared secret. It is created when
	// missing.
	AuthFile string
	// MaxConnections caps concurrent connections.
	// Default: 32
	MaxConnections int
	// HandlerTimeout bounds each handler call.
	// Default: 30 seconds
	HandlerTimeout time.Duration
}

// Server accepts control connections and dispatches requests to handlers.
type Server struct {
	config    ServerConfig
	authToken []byte
	limiter   *ConnectionLimiter

	mu       sync.RWMutex
	handlers map[string]Handler
	unixLn   net.Listener
	tcpLn    net.Listener
	conns    map[net.Conn]struct{}
	running  bool
	wg       sync.WaitGroup
}

// NewServer creates a server. It loads the auth token, generating one when
// the file does not exist, but does not listen until Start.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	s := &Server{
		config:   cfg,
		limiter:  NewConnectionLimiter(cfg.MaxConnections),
		handlers: make(map[string]Handler),
		conns:    make(map[net.Conn]struct{}),
	}
	s.limiter.SetOnReject(func(addr net.Addr) {
		log.WithField("remote", addrString(addr)).
			WithField("max", s.limiter.MaxConnections()).
			Warn("control connection rejected: too many connections")
	})

	if cfg.AuthFile != "" {
		token, err := loadOrCreateAuthToken(cfg.AuthFile)
		if err != nil {
			return nil, fmt.Errorf("auth token: %w", err)
		}
		s.authToken = token
	}
	return s, nil
}

func loadOrCreateAuthToken(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		token, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err == nil && len(token) == AuthTokenLength {
			return token, nil
		}
		log.WithField("path", path).Warn("invalid auth token file, regenerating")
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	token := make([]byte, AuthTokenLength)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating auth dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(token)), 0o600); err != nil {
		return nil, fmt.Errorf("writing token: %w", err)
	}
	log.WithField("path", path).Info("generated new control auth token")
	return token, nil
}

// RegisterHandler registers handler for method, replacing any previous one.
func (s *Server) RegisterHandler(method string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// Start listens on the configured Unix socket and TCP address. Connections
// are served until Stop is called or ctx ends.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("rpc server: %w", apperrors.ErrInvalidState)
	}
	if s.config.UnixSocketPath == "" && s.config.TCPAddress == "" {
		return fmt.Errorf("rpc server: no listeners configured: %w", apperrors.ErrConfiguration)
	}

	if path := s.config.UnixSocketPath; path != "" {
		ln, err := listenUnix(path)
		if err != nil {
			return err
		}
		s.unixLn = ln
		log.WithField("path", path).Info("control socket listening")
	}
	if addr := s.config.TCPAddress; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			if s.unixLn != nil {
				s.unixLn.Close()
				s.unixLn = nil
			}
			return fmt.Errorf("listen tcp: %w", err)
		}
		s.tcpLn = ln
		log.WithField("addr", ln.Addr().String()).Info("control endpoint listening on TCP")
	}

	s.running = true
	for _, ln := range []net.Listener{s.unixLn, s.tcpLn} {
		if ln == nil {
			continue
		}
		s.wg.Add(1)
		go s.acceptLoop(ctx, ln)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		s.closeAll()
	}()
	return nil
}

func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating socket dir: %w", err)
	}
	// A stale socket from a previous run blocks the bind.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	network := ln.Addr().Network()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				log.WithField("network", network).WithError(err).Error("accept failed")
			}
			return
		}

		conn = s.limiter.TryAccept(conn)
		if conn == nil {
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(ctx, conn, network == "unix")
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// serveConn answers requests on conn one line at a time.
func (s *Server) serveConn(ctx context.Context, conn net.Conn, trusted bool) {
	remote := addrString(conn.RemoteAddr())
	log.WithField("remote", remote).Debug("control connection opened")
	defer log.WithField("remote", remote).Debug("control connection closed")

	authenticated := trusted || s.authToken == nil
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), MaxRequestSize)

	for {
		conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		if !sc.Scan() {
			if err := sc.Err(); errors.Is(err, bufio.ErrTooLong) {
				s.writeResponse(conn, NewErrorResponse(nil, NewError(ErrCodeInvalidRequest, "request too large", nil)))
			}
			return
		}
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, NewErrorResponse(nil, NewError(ErrCodeParse, "parse error", err.Error())))
			continue
		}
		if err := ValidateRequest(&req); err != nil {
			s.writeResponse(conn, NewErrorResponse(req.ID, NewError(ErrCodeInvalidRequest, "invalid request", err.Error())))
			continue
		}

		var resp *Response
		switch {
		case req.Method == "auth":
			resp = s.handleAuth(&req, &authenticated)
		case !authenticated:
			resp = NewErrorResponse(req.ID, ErrAuthRequired())
		default:
			resp = s.dispatch(ctx, &req)
		}
		if !s.writeResponse(conn, resp) {
			return
		}
	}
}

func (s *Server) handleAuth(req *Request, authenticated *bool) *Response {
	if s.authToken == nil || *authenticated {
		*authenticated = true
		return NewSuccessResponse(req.ID, map[string]string{"message": "authentication not required"})
	}

	var params struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Token == "" {
		return NewErrorResponse(req.ID, ErrInvalidParams("token required"))
	}
	token, err := hex.DecodeString(params.Token)
	if err != nil {
		return NewErrorResponse(req.ID, ErrInvalidParams("invalid token format"))
	}
	if subtle.ConstantTimeCompare(token, s.authToken) != 1 {
		return NewErrorResponse(req.ID, ErrPermissionDenied("invalid token"))
	}

	*authenticated = true
	return NewSuccessResponse(req.ID, map[string]string{"message": "authenticated"})
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		return NewErrorResponse(req.ID, ErrMethodNotFound(req.Method))
	}

	hctx, cancel := context.WithTimeout(ctx, s.config.HandlerTimeout)
	defer cancel()

	result, rerr := handler(hctx, req.Params)
	if rerr != nil {
		return NewErrorResponse(req.ID, rerr)
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) writeResponse(conn net.Conn, resp *Response) bool {
	data, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).Error("encoding response")
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		log.WithError(err).Debug("writing response")
		return false
	}
	return true
}

// closeAll closes the listeners and every open connection.
func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if s.unixLn != nil {
		s.unixLn.Close()
		os.Remove(s.config.UnixSocketPath)
	}
	if s.tcpLn != nil {
		s.tcpLn.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
}

// Stop closes the listeners and open connections and waits for handlers
// to return. The context passed to Start must also end for Stop to return.
func (s *Server) Stop() {
	s.closeAll()
	s.wg.Wait()
	log.Info("control server stopped")
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// AuthToken returns the hex-encoded shared secret, or "" when TCP clients
// need no authentication.
func (s *Server) AuthToken() string {
	if s.authToken == nil {
		return ""
	}
	return hex.EncodeToString(s.authToken)
}

// UnixSocketPath returns the socket path, or "" when not listening on one.
func (s *Server) UnixSocketPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unixLn == nil {
		return ""
	}
	return s.config.UnixSocketPath
}

// TCPAddr returns the TCP listen address, or nil.
func (s *Server) TCPAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tcpLn == nil {
		return nil
	}
	return s.tcpLn.Addr()
}

// ActiveConnections returns the number of open control connections.
func (s *Server) ActiveConnections() int {
	return s.limiter.ActiveConnections()
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
