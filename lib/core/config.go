// Package core wires the socket pool, its event loop and the dialing
// transports into a runnable service. It owns configuration loading and the
// service lifecycle used by the sockpool command.
package core

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/net/proxy"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/pool"
	"github.com/go-i2p/sockpool/lib/resilience"
	"github.com/go-i2p/sockpool/lib/rpc"
	"github.com/go-i2p/sockpool/lib/transport"
	"github.com/go-i2p/sockpool/lib/validation"
)

// Default configuration values
const (
	DefaultDialTimeout     = 30 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultProbeInterval   = 15 * time.Second
	DefaultTunnelName      = "sockpool"
	DefaultMetricsListen   = "127.0.0.1:9464"
	DefaultShutdownTimeout = 5 * time.Second
)

// Config holds all configuration for a sockpool service.
type Config struct {
	Pool       PoolConfig       `toml:"pool"`
	Transport  TransportConfig  `toml:"transport"`
	I2P        I2PConfig        `toml:"i2p"`
	Resilience ResilienceConfig `toml:"resilience"`
	RateLimit  RateLimitConfig  `toml:"ratelimit"`
	Metrics    MetricsConfig    `toml:"metrics"`
	RPC        RPCConfig        `toml:"rpc"`
	Groups     []GroupConfig    `toml:"group"`
}

// PoolConfig contains socket pool limits.
type PoolConfig struct {
	// MaxSocketsPerGroup bounds active plus connecting sockets per group
	MaxSocketsPerGroup int `toml:"max_sockets_per_group"`
	// IdleTimeout is how long an unused socket is kept
	IdleTimeout time.Duration `toml:"idle_timeout"`
	// CleanupInterval is how often idle sockets are checked
	CleanupInterval time.Duration `toml:"cleanup_interval"`
	// ShutdownTimeout bounds how long Stop waits for the service
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// TransportConfig contains dialing settings shared by all groups.
type TransportConfig struct {
	DialTimeout time.Duration `toml:"dial_timeout"`
	KeepAlive   time.Duration `toml:"keep_alive"`
	// TLSServerName overrides the name verified for tls groups without
	// their own server_name
	TLSServerName      string `toml:"tls_server_name,omitempty"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	// SOCKSProxy enables socks5 groups (e.g., "127.0.0.1:9050")
	SOCKSProxy    string `toml:"socks_proxy,omitempty"`
	SOCKSUser     string `toml:"socks_user,omitempty"`
	SOCKSPassword string `toml:"socks_password,omitempty"`
	// ProbeUpstreams turns on background health checks of the SOCKS proxy
	// and the SAM bridge
	ProbeUpstreams bool          `toml:"probe_upstreams"`
	ProbeInterval  time.Duration `toml:"probe_interval"`
}

// I2PConfig contains I2P transport settings.
type I2PConfig struct {
	// Enabled controls whether i2p groups can be dialed
	Enabled bool `toml:"enabled"`
	// SAMAddress is the SAM bridge address (host:port)
	SAMAddress string `toml:"sam_address"`
	// TunnelName names the client tunnel and its persisted keys
	TunnelName string `toml:"tunnel_name"`
	// Options are SAM session options (e.g., "inbound.length=2")
	Options []string `toml:"options,omitempty"`
}

// ResilienceConfig contains per-group circuit breaker settings.
type ResilienceConfig struct {
	FailureThreshold int           `toml:"failure_threshold"`
	SuccessThreshold int           `toml:"success_threshold"`
	OpenTimeout      time.Duration `toml:"open_timeout"`
}

// RateLimitConfig limits new connections per group.
type RateLimitConfig struct {
	// ConnectsPerSecond of zero disables the limiter
	ConnectsPerSecond float64 `toml:"connects_per_second"`
	Burst             int     `toml:"burst"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// RPCConfig contains the control interface settings.
type RPCConfig struct {
	// Enabled starts the control server with the service
	Enabled bool `toml:"enabled"`
	// Socket is the Unix socket path; its clients are trusted
	Socket string `toml:"socket"`
	// TCPAddress optionally serves token-authenticated clients over TCP
	TCPAddress string `toml:"tcp_address,omitempty"`
	// AuthFile holds the hex token, generated on first start
	AuthFile       string `toml:"auth_file"`
	MaxConnections int    `toml:"max_connections"`
}

// ClientConfig returns the settings a control client needs to reach this
// configuration's server.
func (r RPCConfig) ClientConfig() rpc.ClientConfig {
	return rpc.ClientConfig{
		UnixSocketPath: r.Socket,
		TCPAddress:     r.TCPAddress,
		AuthFile:       r.AuthFile,
	}
}

// GroupConfig names a destination that the command line tools can lease
// sockets for.
type GroupConfig struct {
	Name       string `toml:"name"`
	Transport  string `toml:"transport"`
	Network    string `toml:"network,omitempty"`
	Address    string `toml:"address"`
	ServerName string `toml:"server_name,omitempty"`
	Priority   int    `toml:"priority"`
}

// Destination converts g into a transport destination.
func (g GroupConfig) Destination() (transport.Destination, error) {
	kind, err := transport.ParseKind(g.Transport)
	if err != nil {
		return transport.Destination{}, err
	}
	dest := transport.Destination{
		Kind:       kind,
		Network:    g.Network,
		Address:    g.Address,
		ServerName: g.ServerName,
	}
	if err := dest.Validate(); err != nil {
		return transport.Destination{}, err
	}
	return dest, nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	breaker := resilience.DefaultBreakerConfig()
	return &Config{
		Pool: PoolConfig{
			MaxSocketsPerGroup: pool.DefaultMaxSocketsPerGroup,
			IdleTimeout:        pool.DefaultIdleTimeout,
			CleanupInterval:    pool.DefaultCleanupInterval,
			ShutdownTimeout:    DefaultShutdownTimeout,
		},
		Transport: TransportConfig{
			DialTimeout:   DefaultDialTimeout,
			KeepAlive:     DefaultKeepAlive,
			ProbeInterval: DefaultProbeInterval,
		},
		I2P: I2PConfig{
			SAMAddress: transport.DefaultSAMAddress,
			TunnelName: DefaultTunnelName,
		},
		Resilience: ResilienceConfig{
			FailureThreshold: breaker.FailureThreshold,
			SuccessThreshold: breaker.SuccessThreshold,
			OpenTimeout:      breaker.OpenTimeout,
		},
		RateLimit: RateLimitConfig{
			Burst: 10,
		},
		Metrics: MetricsConfig{
			Listen: DefaultMetricsListen,
		},
		RPC: RPCConfig{
			Socket:         filepath.Join(dataDir(), "control.sock"),
			AuthFile:       filepath.Join(dataDir(), "control.token"),
			MaxConnections: rpc.DefaultMaxConnections,
		},
	}
}

func dataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".sockpool")
}

// DefaultConfigPath returns ~/.sockpool/config.toml.
func DefaultConfigPath() string {
	return filepath.Join(dataDir(), "config.toml")
}

// LoadConfig reads configuration from a TOML file and applies SOCKPOOL_*
// environment overrides. If the file doesn't exist, the overrides are
// applied to the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors. Every problem found is
// reported, joined into one error wrapping ErrConfiguration.
func (c *Config) Validate() error {
	var errs validation.Errors

	errs.Add(validation.AtLeast("pool.max_sockets_per_group", c.Pool.MaxSocketsPerGroup, 1))
	errs.Add(validation.PositiveDuration("pool.idle_timeout", c.Pool.IdleTimeout))
	errs.Add(validation.PositiveDuration("pool.cleanup_interval", c.Pool.CleanupInterval))
	errs.Add(validation.NonNegativeDuration("pool.shutdown_timeout", c.Pool.ShutdownTimeout))
	errs.Add(validation.PositiveDuration("transport.dial_timeout", c.Transport.DialTimeout))
	if c.Transport.SOCKSProxy != "" {
		errs.Add(validation.HostPort("transport.socks_proxy", c.Transport.SOCKSProxy))
	}
	if c.Transport.SOCKSPassword != "" && c.Transport.SOCKSUser == "" {
		errs.Addf("transport.socks_password requires transport.socks_user")
	}
	if c.Transport.ProbeUpstreams {
		errs.Add(validation.PositiveDuration("transport.probe_interval", c.Transport.ProbeInterval))
	}
	if c.I2P.Enabled {
		errs.Add(validation.HostPort("i2p.sam_address", c.I2P.SAMAddress))
	}
	errs.Add(validation.AtLeast("resilience.failure_threshold", c.Resilience.FailureThreshold, 1))
	errs.Add(validation.AtLeast("resilience.success_threshold", c.Resilience.SuccessThreshold, 1))
	errs.Add(validation.PositiveDuration("resilience.open_timeout", c.Resilience.OpenTimeout))
	errs.Add(validation.NonNegativeRate("ratelimit.connects_per_second", c.RateLimit.ConnectsPerSecond))
	if c.RateLimit.ConnectsPerSecond > 0 {
		errs.Add(validation.AtLeast("ratelimit.burst", c.RateLimit.Burst, 1))
	}
	if c.Metrics.Enabled {
		errs.Add(validation.Required("metrics.listen", c.Metrics.Listen))
	}
	if c.RPC.Enabled {
		if c.RPC.Socket == "" && c.RPC.TCPAddress == "" {
			errs.Addf("rpc requires rpc.socket or rpc.tcp_address")
		}
		if c.RPC.TCPAddress != "" {
			errs.Add(validation.HostPort("rpc.tcp_address", c.RPC.TCPAddress))
		}
		errs.Add(validation.NonNegative("rpc.max_connections", c.RPC.MaxConnections))
	}

	seen := make(map[string]bool, len(c.Groups))
	for i, g := range c.Groups {
		if err := validation.GroupName(fmt.Sprintf("group[%d].name", i), g.Name); err != nil {
			errs.Add(err)
		} else if seen[g.Name] {
			errs.Addf("group %q is defined twice", g.Name)
		}
		seen[g.Name] = true

		errs.Add(validation.NonNegative(fmt.Sprintf("group %q: priority", g.Name), g.Priority))
		dest, err := g.Destination()
		if err != nil {
			errs.Addf("group %q: %v", g.Name, err)
			continue
		}
		switch {
		case dest.Kind == transport.KindSOCKS5 && c.Transport.SOCKSProxy == "":
			errs.Addf("group %q uses socks5 but transport.socks_proxy is not set", g.Name)
		case dest.Kind == transport.KindI2P && !c.I2P.Enabled:
			errs.Addf("group %q uses i2p but i2p is not enabled", g.Name)
		}
	}

	if !errs.HasErrors() {
		return nil
	}
	return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, errs.Err())
}

// Group returns the group named name.
func (c *Config) Group(name string) (GroupConfig, bool) {
	for _, g := range c.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return GroupConfig{}, false
}

// ResolveTarget maps a configured group name or transport://address to a
// destination and its priority. Ad hoc targets get priority zero.
func (c *Config) ResolveTarget(target string) (transport.Destination, int, error) {
	if g, ok := c.Group(target); ok {
		dest, err := g.Destination()
		if err != nil {
			return transport.Destination{}, 0, fmt.Errorf("group %q: %w", target, err)
		}
		return dest, g.Priority, nil
	}

	kind, addr, ok := strings.Cut(target, "://")
	if !ok {
		return transport.Destination{}, 0, fmt.Errorf("%q is neither a configured group nor transport://address: %w",
			target, apperrors.ErrNotFound)
	}
	dest, err := GroupConfig{Name: target, Transport: kind, Address: addr}.Destination()
	if err != nil {
		return transport.Destination{}, 0, err
	}
	return dest, 0, nil
}

const redacted = "<redacted>"

// Lookup returns the value at a dotted key such as "pool.idle_timeout",
// using the TOML key names. An empty key returns the whole configuration.
// Secrets are redacted.
func (c *Config) Lookup(key string) (any, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if t, ok := tree["transport"].(map[string]any); ok {
		if pw, _ := t["socks_password"].(string); pw != "" {
			t["socks_password"] = redacted
		}
	}
	if key == "" {
		return tree, nil
	}

	var value any = tree
	for _, part := range strings.Split(key, ".") {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config key %q: %w", key, apperrors.ErrNotFound)
		}
		if value, ok = m[part]; !ok {
			return nil, fmt.Errorf("config key %q: %w", key, apperrors.ErrNotFound)
		}
	}
	return value, nil
}

// PoolConfig returns the pool settings.
func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		MaxSocketsPerGroup: c.Pool.MaxSocketsPerGroup,
		IdleTimeout:        c.Pool.IdleTimeout,
		CleanupInterval:    c.Pool.CleanupInterval,
	}
}

// FactoryConfig returns the dialing, breaker and rate limit settings.
func (c *Config) FactoryConfig() transport.FactoryConfig {
	fc := transport.DefaultFactoryConfig()
	fc.DialTimeout = c.Transport.DialTimeout
	fc.KeepAlive = c.Transport.KeepAlive
	fc.SOCKSProxy = c.Transport.SOCKSProxy
	fc.ProbeUpstreams = c.Transport.ProbeUpstreams
	fc.Probe.Interval = c.Transport.ProbeInterval
	fc.ConnectsPerSecond = c.RateLimit.ConnectsPerSecond
	fc.ConnectBurst = c.RateLimit.Burst

	fc.Breaker.FailureThreshold = c.Resilience.FailureThreshold
	fc.Breaker.SuccessThreshold = c.Resilience.SuccessThreshold
	fc.Breaker.OpenTimeout = c.Resilience.OpenTimeout

	if c.Transport.TLSServerName != "" || c.Transport.InsecureSkipVerify {
		fc.TLS = &tls.Config{
			ServerName:         c.Transport.TLSServerName,
			InsecureSkipVerify: c.Transport.InsecureSkipVerify,
		}
	}
	if c.Transport.SOCKSUser != "" {
		fc.SOCKSAuth = &proxy.Auth{User: c.Transport.SOCKSUser, Password: c.Transport.SOCKSPassword}
	}
	if c.I2P.Enabled {
		fc.I2P = &transport.I2PConfig{
			SAMAddress: c.I2P.SAMAddress,
			TunnelName: c.I2P.TunnelName,
			Options:    c.I2P.Options,
		}
	}
	return fc
}
