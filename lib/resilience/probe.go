package resilience

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

// ProbeConfig configures an UpstreamProbe.
type ProbeConfig struct {
	// Interval between probes.
	// Default: 15 seconds
	Interval time.Duration
	// Timeout for a single probe connection.
	// Default: 5 seconds
	Timeout time.Duration
	// Breaker configures when the upstream is considered down.
	Breaker BreakerConfig
}

// DefaultProbeConfig returns sensible defaults for probing a local SAM bridge
// or SOCKS proxy.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Interval: 15 * time.Second,
		Timeout:  5 * time.Second,
		Breaker: BreakerConfig{
			FailureThreshold:    2,
			SuccessThreshold:    1,
			OpenTimeout:         30 * time.Second,
			MaxHalfOpenAttempts: 1,
		},
	}
}

// UpstreamProbe periodically checks that a proxy the dialers depend on, such
// as the I2P SAM bridge or a SOCKS5 server, accepts TCP connections. Probe
// results drive a Breaker so dial attempts through a dead upstream fail fast
// instead of each waiting out its own timeout.
type UpstreamProbe struct {
	mu     sync.RWMutex
	name   string
	addr   string
	config ProbeConfig
	dialer net.Dialer

	breaker *Breaker

	healthy     bool
	lastCheck   time.Time
	lastHealthy time.Time
	onChange    func(healthy bool)

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewUpstreamProbe creates a probe for the TCP endpoint addr.
func NewUpstreamProbe(name, addr string, cfg ProbeConfig) *UpstreamProbe {
	d := DefaultProbeConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}

	return &UpstreamProbe{
		name:    name,
		addr:    addr,
		config:  cfg,
		dialer:  net.Dialer{Timeout: cfg.Timeout},
		breaker: NewBreaker("upstream-"+name, cfg.Breaker),
		healthy: true,
	}
}

// Name returns the probe name.
func (p *UpstreamProbe) Name() string { return p.name }

// Addr returns the probed address.
func (p *UpstreamProbe) Addr() string { return p.addr }

// OnChange registers fn to run when the probe result flips.
func (p *UpstreamProbe) OnChange(fn func(healthy bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Start begins probing in the background. It returns immediately.
func (p *UpstreamProbe) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	log.WithField("upstream", p.name).
		WithField("addr", p.addr).
		WithField("interval", p.config.Interval).
		Debug("starting upstream probe")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
	return nil
}

// Stop halts probing and waits for the probe goroutine to exit.
func (p *UpstreamProbe) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	log.WithField("upstream", p.name).Debug("upstream probe stopped")
}

func (p *UpstreamProbe) run(ctx context.Context) {
	p.Check(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check probes the upstream once and returns whether it answered. While the
// breaker is open no connection is attempted.
func (p *UpstreamProbe) Check(ctx context.Context) bool {
	var healthy bool
	if err := p.breaker.Allow(); err == nil {
		err = p.probe(ctx)
		p.breaker.Record(err)
		healthy = err == nil
	}
	if !healthy {
		UpstreamProbeFailures.Inc()
	}

	p.mu.Lock()
	was := p.healthy
	p.healthy = healthy
	p.lastCheck = time.Now()
	if healthy {
		p.lastHealthy = p.lastCheck
	}
	onChange := p.onChange
	p.mu.Unlock()

	if was != healthy {
		if healthy {
			UpstreamsUnhealthy.Dec()
			log.WithField("upstream", p.name).Info("upstream reachable again")
		} else {
			UpstreamsUnhealthy.Inc()
			log.WithField("upstream", p.name).WithField("addr", p.addr).Warn("upstream unreachable")
		}
		if onChange != nil {
			onChange(healthy)
		}
	}
	return healthy
}

func (p *UpstreamProbe) probe(ctx context.Context) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		err = apperrors.ClassifyNetError(err)
		log.WithField("upstream", p.name).WithError(err).Debug("upstream probe failed")
		return err
	}
	return conn.Close()
}

// Allow returns an error wrapping ErrUnavailable while the upstream is
// considered down.
func (p *UpstreamProbe) Allow() error {
	if p.breaker.State() == CircuitOpen {
		return fmt.Errorf("upstream %s at %s: %w", p.name, p.addr, apperrors.ErrUnavailable)
	}
	return nil
}

// Healthy reports whether the last probe succeeded.
func (p *UpstreamProbe) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy
}

// ProbeStats holds probe statistics.
type ProbeStats struct {
	Name        string
	Addr        string
	Healthy     bool
	LastCheck   time.Time
	LastHealthy time.Time
	Breaker     BreakerStats
}

// Stats returns a snapshot of the probe.
func (p *UpstreamProbe) Stats() ProbeStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ProbeStats{
		Name:        p.name,
		Addr:        p.addr,
		Healthy:     p.healthy,
		LastCheck:   p.lastCheck,
		LastHealthy: p.lastHealthy,
		Breaker:     p.breaker.Stats(),
	}
}
