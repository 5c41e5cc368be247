package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/loop"
	"github.com/go-i2p/sockpool/lib/metrics"
	"github.com/go-i2p/sockpool/lib/pool"
	"github.com/go-i2p/sockpool/lib/rpc"
	"github.com/go-i2p/sockpool/lib/transport"
)

// ServiceState represents the current state of the service.
type ServiceState int

const (
	// StateInitial is the initial state before Start is called.
	StateInitial ServiceState = iota
	// StateStarting means the service is in the process of starting.
	StateStarting
	// StateRunning means the pool is accepting requests.
	StateRunning
	// StateStopping means the service is shutting down.
	StateStopping
	// StateStopped means the service has been stopped.
	StateStopped
)

func (s ServiceState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Service owns a socket pool together with the loop that drives it, the
// dial job factory that fills it, and the optional metrics endpoint and
// control server.
//
// The pool itself is single-goroutine. Service marshals every call from
// other goroutines onto the loop, so its methods are safe for concurrent use.
type Service struct {
	mu     sync.RWMutex
	config *Config
	logger *slog.Logger
	state  ServiceState

	loop        *loop.Loop
	pool        *pool.Pool
	factory     *transport.DialJobFactory
	metricsAddr net.Addr
	control     *rpc.Server

	// ctx is cancelled when the service starts shutting down
	ctx    context.Context
	cancel context.CancelFunc
	// done is closed once every component has stopped
	done   chan struct{}
	runErr error

	startedAt     time.Time
	onStateChange func(oldState, newState ServiceState)
}

// NewService creates a Service with the given configuration.
// Nothing is started until Start is called.
func NewService(cfg *Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required: %w", apperrors.ErrConfiguration)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	close(done)
	return &Service{
		config: cfg,
		logger: logger.With("component", "service"),
		state:  StateInitial,
		done:   done,
	}, nil
}

// Start builds the loop, the pool and the dialers, then runs them in the
// background until Stop is called or a component fails.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInitial && s.state != StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("cannot start service in state %s: %w", s.state, apperrors.ErrInvalidState)
	}
	oldState := s.state
	s.state = StateStarting
	s.mu.Unlock()

	s.emitStateChange(oldState, StateStarting)

	s.logger.Info("starting service",
		"max_sockets_per_group", s.config.Pool.MaxSocketsPerGroup,
		"groups", len(s.config.Groups),
		"i2p", s.config.I2P.Enabled,
		"socks_proxy", s.config.Transport.SOCKSProxy,
	)

	l := loop.New()
	factory, err := transport.NewDialJobFactory(l, s.config.FactoryConfig())
	if err != nil {
		s.failStart(err)
		return fmt.Errorf("creating dialers: %w", err)
	}
	p := pool.New(factory, l, s.config.PoolConfig())

	var ln net.Listener
	if s.config.Metrics.Enabled {
		ln, err = net.Listen("tcp", s.config.Metrics.Listen)
		if err != nil {
			factory.Close()
			s.failStart(err)
			return fmt.Errorf("listening for metrics: %w", err)
		}
	}

	var control *rpc.Server
	if s.config.RPC.Enabled {
		control, err = newControlServer(s, s.config.RPC)
		if err != nil {
			factory.Close()
			if ln != nil {
				ln.Close()
			}
			s.failStart(err)
			return fmt.Errorf("creating control server: %w", err)
		}
	}

	svcCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(svcCtx)

	g.Go(func() error {
		return l.Run(gctx)
	})
	if err := factory.Start(gctx); err != nil {
		cancel()
		g.Wait()
		factory.Close()
		if ln != nil {
			ln.Close()
		}
		s.failStart(err)
		return fmt.Errorf("starting upstream probes: %w", err)
	}
	if ln != nil {
		srv := &http.Server{
			Handler:           metricsMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		s.logger.Info("metrics endpoint listening", "addr", ln.Addr().String())
	}
	if control != nil {
		if err := control.Start(gctx); err != nil {
			cancel()
			g.Wait()
			factory.Close()
			s.failStart(err)
			return fmt.Errorf("starting control server: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			control.Stop()
			return nil
		})
	}

	metrics.RecordStartTime()

	s.mu.Lock()
	s.loop = l
	s.pool = p
	s.factory = factory
	s.ctx = gctx
	s.cancel = cancel
	s.done = make(chan struct{})
	s.runErr = nil
	s.metricsAddr = nil
	if ln != nil {
		s.metricsAddr = ln.Addr()
	}
	s.control = control
	s.state = StateRunning
	s.startedAt = time.Now()
	done := s.done
	s.mu.Unlock()

	s.emitStateChange(StateStarting, StateRunning)
	s.logger.Info("service started")

	go s.run(g, l, p, factory, done)

	return nil
}

// run waits for the components and tears the pool down once they exit.
func (s *Service) run(g *errgroup.Group, l *loop.Loop, p *pool.Pool, factory *transport.DialJobFactory, done chan struct{}) {
	defer close(done)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		s.logger.Error("service component failed", "error", err)
	}

	// The loop has stopped, so this goroutine now owns the pool.
	p.Close()
	l.RunUntilIdle()
	if cerr := factory.Close(); cerr != nil {
		s.logger.Warn("closing dialers", "error", cerr)
	}

	s.mu.Lock()
	oldState := s.state
	s.state = StateStopped
	s.runErr = err
	s.mu.Unlock()

	s.logger.Info("service shut down")
	s.emitStateChange(oldState, StateStopped)
}

// Stop gracefully shuts down the service.
// It blocks until all components have stopped or the context is cancelled.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("cannot stop service in state %s: %w", s.state, apperrors.ErrInvalidState)
	}
	s.state = StateStopping
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	s.emitStateChange(StateRunning, StateStopping)
	s.logger.Info("stopping service")

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		s.logger.Info("service stopped")
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the service and blocks until ctx is cancelled or a component
// fails, then stops it within the configured shutdown timeout.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.Done():
		return s.Err()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := s.Stop(stopCtx); err != nil && !apperrors.IsInvalidState(err) {
		return err
	}
	<-s.Done()
	return s.Err()
}

func (s *Service) failStart(err error) {
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.logger.Error("service failed to start", "error", err)
	s.emitStateChange(StateStarting, StateStopped)
}

func (s *Service) shutdownTimeout() time.Duration {
	if s.config.Pool.ShutdownTimeout > 0 {
		return s.config.Pool.ShutdownTimeout
	}
	return DefaultShutdownTimeout
}

// running returns the loop and pool if the service accepts requests.
func (s *Service) running() (*loop.Loop, *pool.Pool, context.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateRunning {
		return nil, nil, nil, fmt.Errorf("service is %s: %w", s.state, apperrors.ErrInvalidState)
	}
	return s.loop, s.pool, s.ctx, nil
}

// do runs fn on l and waits for it, giving up when ctx ends or svcCtx is
// cancelled by shutdown.
func do(ctx, svcCtx context.Context, l *loop.Loop, fn func()) error {
	doCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(svcCtx, cancel)
	defer stop()

	if err := l.Do(doCtx, fn); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.ErrPoolClosed
	}
	return nil
}

// Stats returns a snapshot of the pool.
func (s *Service) Stats(ctx context.Context) (pool.Stats, error) {
	l, p, svcCtx, err := s.running()
	if err != nil {
		return pool.Stats{}, err
	}
	var stats pool.Stats
	if err := do(ctx, svcCtx, l, func() { stats = p.Stats() }); err != nil {
		return pool.Stats{}, err
	}
	return stats, nil
}

// CloseIdleSockets closes every idle socket in the pool.
func (s *Service) CloseIdleSockets(ctx context.Context) error {
	_, err := s.closeIdleSockets(ctx)
	return err
}

func (s *Service) closeIdleSockets(ctx context.Context) (int, error) {
	l, p, svcCtx, err := s.running()
	if err != nil {
		return 0, err
	}
	var n int
	err = do(ctx, svcCtx, l, func() {
		n = p.IdleSocketCount()
		p.CloseIdleSockets()
	})
	return n, err
}

// State returns the current state of the service.
func (s *Service) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Factory returns the dial job factory of the current run, or nil.
func (s *Service) Factory() *transport.DialJobFactory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.factory
}

// MetricsAddr returns the address of the metrics endpoint, or nil when it
// is disabled or the service is not running.
func (s *Service) MetricsAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metricsAddr
}

// ControlServer returns the control server of the current run, or nil when
// rpc is disabled.
func (s *Service) ControlServer() *rpc.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.control
}

// Done returns a channel that is closed when the service has stopped.
func (s *Service) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Err returns the error that stopped the last run, if any.
func (s *Service) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runErr
}

// StartedAt returns when the service was started.
// Returns zero time if not started.
func (s *Service) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Uptime returns how long the service has been running.
// Returns zero if not running.
func (s *Service) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt.IsZero() || s.state != StateRunning {
		return 0
	}
	return time.Since(s.startedAt)
}

// SetOnStateChange sets a callback for state changes.
// The callback is invoked synchronously during state transitions.
func (s *Service) SetOnStateChange(callback func(oldState, newState ServiceState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = callback
}

func (s *Service) emitStateChange(oldState, newState ServiceState) {
	s.mu.RLock()
	callback := s.onStateChange
	s.mu.RUnlock()

	if callback != nil {
		callback(oldState, newState)
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}
