package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/loop"
	"github.com/go-i2p/sockpool/lib/pool"
	"github.com/go-i2p/sockpool/lib/ratelimit"
	"github.com/go-i2p/sockpool/lib/resilience"
)

// FactoryConfig configures a DialJobFactory.
type FactoryConfig struct {
	// DialTimeout bounds a whole connect attempt, TLS handshake included.
	// Default: 30 seconds
	DialTimeout time.Duration
	// KeepAlive is the TCP keep-alive period.
	// Default: 30 seconds
	KeepAlive time.Duration
	// TLS is the base TLS configuration. ServerName is filled per destination.
	TLS *tls.Config
	// SOCKSProxy is the SOCKS5 proxy address. Empty disables KindSOCKS5.
	SOCKSProxy string
	// SOCKSAuth holds optional proxy credentials.
	SOCKSAuth *proxy.Auth
	// I2P configures KindI2P. A nil value disables it.
	I2P *I2PConfig
	// Breaker configures the per-group circuit breakers.
	Breaker resilience.BreakerConfig
	// ConnectsPerSecond limits new connections per group. Zero disables
	// rate limiting.
	ConnectsPerSecond float64
	// ConnectBurst is the rate limiter burst.
	// Default: 10
	ConnectBurst int
	// ProbeUpstreams enables background probes of the SOCKS5 proxy and the
	// SAM bridge.
	ProbeUpstreams bool
	// Probe configures the upstream probes.
	Probe resilience.ProbeConfig
}

// DefaultFactoryConfig returns sensible defaults with only tcp and tls
// enabled.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		DialTimeout:  30 * time.Second,
		KeepAlive:    30 * time.Second,
		Breaker:      resilience.DefaultBreakerConfig(),
		ConnectBurst: 10,
		Probe:        resilience.DefaultProbeConfig(),
	}
}

// DialJobFactory is a pool.ConnectJobFactory that creates a DialJob for each
// request according to its Destination. Before a job is created the group's
// circuit breaker, the upstream probe for the transport and the group's rate
// limiter must all allow it; otherwise the job fails synchronously.
type DialJobFactory struct {
	loop    *loop.Loop
	config  FactoryConfig
	dialers map[Kind]DialFunc
	probes  map[Kind]*resilience.UpstreamProbe

	breakers *resilience.BreakerSet
	limiter  *ratelimit.KeyedLimiter
	i2p      *I2PDialer

	closeOnce sync.Once
}

// NewDialJobFactory creates a factory whose jobs report on l.
func NewDialJobFactory(l *loop.Loop, cfg FactoryConfig) (*DialJobFactory, error) {
	d := DefaultFactoryConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = d.DialTimeout
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = d.KeepAlive
	}
	if cfg.ConnectBurst <= 0 {
		cfg.ConnectBurst = d.ConnectBurst
	}

	f := &DialJobFactory{
		loop:     l,
		config:   cfg,
		dialers:  make(map[Kind]DialFunc),
		probes:   make(map[Kind]*resilience.UpstreamProbe),
		breakers: resilience.NewBreakerSet(cfg.Breaker),
	}

	tcp := NewTCPDialer(cfg.DialTimeout, cfg.KeepAlive)
	f.dialers[KindTCP] = tcp.Dial
	f.dialers[KindTLS] = (&TLSDialer{Inner: tcp.Dial, Config: cfg.TLS}).Dial

	if cfg.SOCKSProxy != "" {
		socks, err := NewSOCKS5Dialer(cfg.SOCKSProxy, cfg.SOCKSAuth, &tcp.Dialer)
		if err != nil {
			return nil, err
		}
		f.dialers[KindSOCKS5] = socks.Dial
		if cfg.ProbeUpstreams {
			f.probes[KindSOCKS5] = resilience.NewUpstreamProbe("socks5", cfg.SOCKSProxy, cfg.Probe)
		}
	}

	if cfg.I2P != nil {
		f.i2p = NewI2PDialer(*cfg.I2P)
		f.dialers[KindI2P] = f.i2p.Dial
		if cfg.ProbeUpstreams {
			f.probes[KindI2P] = resilience.NewUpstreamProbe("sam", f.i2p.SAMAddress(), cfg.Probe)
		}
	}

	if cfg.ConnectsPerSecond > 0 {
		f.limiter = ratelimit.NewKeyed(cfg.ConnectsPerSecond, cfg.ConnectBurst, time.Minute)
	}

	return f, nil
}

// Register installs or replaces the dialer for kind.
func (f *DialJobFactory) Register(kind Kind, dial DialFunc) {
	f.dialers[kind] = dial
}

// Supports reports whether a dialer is registered for kind.
func (f *DialJobFactory) Supports(kind Kind) bool {
	_, ok := f.dialers[kind]
	return ok
}

// Breakers returns the per-group circuit breakers.
func (f *DialJobFactory) Breakers() *resilience.BreakerSet {
	return f.breakers
}

// Probes returns the upstream probes.
func (f *DialJobFactory) Probes() []*resilience.UpstreamProbe {
	probes := make([]*resilience.UpstreamProbe, 0, len(f.probes))
	for _, kind := range []Kind{KindSOCKS5, KindI2P} {
		if p, ok := f.probes[kind]; ok {
			probes = append(probes, p)
		}
	}
	return probes
}

// Start launches the upstream probes.
func (f *DialJobFactory) Start(ctx context.Context) error {
	for _, p := range f.Probes() {
		if err := p.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the probes and the limiter and closes the SAM session.
func (f *DialJobFactory) Close() error {
	var err error
	f.closeOnce.Do(func() {
		for _, p := range f.Probes() {
			p.Stop()
		}
		if f.limiter != nil {
			f.limiter.Close()
		}
		if f.i2p != nil {
			err = f.i2p.Close()
		}
	})
	return err
}

// NewConnectJob implements pool.ConnectJobFactory. The request destination
// must be a Destination or *Destination.
func (f *DialJobFactory) NewConnectJob(groupName string, req *pool.Request, delegate pool.ConnectJobDelegate) pool.ConnectJob {
	dest, err := destinationOf(req)
	if err == nil {
		err = f.admit(groupName, dest)
	}
	if err != nil {
		DialRejections.Inc()
		log.WithField("group", groupName).WithError(err).Debug("connect job refused")
		return newFailedJob(groupName, req, delegate, err)
	}

	job := NewDialJob(f.loop, groupName, req, delegate, f.dialers[dest.Kind], dest, f.config.DialTimeout)
	job.onResult = func(err error) {
		f.breakers.Record(groupName, err)
	}
	return job
}

// admit runs the checks that must pass before a dial starts. A breaker
// reservation taken here is released if a later check fails.
func (f *DialJobFactory) admit(groupName string, dest Destination) error {
	if _, ok := f.dialers[dest.Kind]; !ok {
		return fmt.Errorf("%s: no dialer for transport %q: %w", groupName, dest.Kind, apperrors.ErrUnsupportedDestination)
	}
	if probe, ok := f.probes[dest.Kind]; ok {
		if err := probe.Allow(); err != nil {
			return err
		}
	}
	if err := f.breakers.Allow(groupName); err != nil {
		return err
	}
	if f.limiter != nil {
		if err := f.limiter.Reserve(groupName); err != nil {
			f.breakers.Record(groupName, err)
			return err
		}
	}
	return nil
}

func destinationOf(req *pool.Request) (Destination, error) {
	var dest Destination
	switch d := req.Destination().(type) {
	case Destination:
		dest = d
	case *Destination:
		if d == nil {
			return Destination{}, fmt.Errorf("nil destination: %w", apperrors.ErrUnsupportedDestination)
		}
		dest = *d
	default:
		return Destination{}, fmt.Errorf("destination of type %T: %w", d, apperrors.ErrUnsupportedDestination)
	}
	if dest.Kind == "" {
		dest.Kind = KindTCP
	}
	return dest, dest.Validate()
}

// failedJob is returned when a request is refused before dialing.
type failedJob struct {
	pool.ConnectJobBase
	err error
}

func newFailedJob(groupName string, req *pool.Request, delegate pool.ConnectJobDelegate, err error) *failedJob {
	return &failedJob{
		ConnectJobBase: pool.NewConnectJobBase(groupName, req, delegate),
		err:            err,
	}
}

func (j *failedJob) Connect() error {
	if err := j.Begin(); err != nil {
		return err
	}
	j.Fail()
	return j.err
}
