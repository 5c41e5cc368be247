package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/pool"
)

// ProgressFunc reports what a dial is currently waiting on. It may be called
// from any goroutine.
type ProgressFunc func(pool.LoadState)

// DialFunc opens a connection to dest. Errors are classified with
// apperrors.ClassifyNetError so callers can match them with errors.Is.
type DialFunc func(ctx context.Context, dest Destination, progress ProgressFunc) (net.Conn, error)

// ContextDialer is the dialer shape shared by net.Dialer and the proxy
// package.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TCPDialer dials TCP destinations, resolving the host itself so that host
// resolution and connecting are reported as separate load states.
type TCPDialer struct {
	Dialer   net.Dialer
	Resolver *net.Resolver
}

// NewTCPDialer creates a TCP dialer.
func NewTCPDialer(timeout, keepAlive time.Duration) *TCPDialer {
	return &TCPDialer{
		Dialer:   net.Dialer{Timeout: timeout, KeepAlive: keepAlive},
		Resolver: net.DefaultResolver,
	}
}

// Dial implements DialFunc.
func (d *TCPDialer) Dial(ctx context.Context, dest Destination, progress ProgressFunc) (net.Conn, error) {
	if dest.network() == "unix" {
		progress(pool.LoadStateConnecting)
		conn, err := d.Dialer.DialContext(ctx, "unix", dest.Address)
		if err != nil {
			return nil, apperrors.ClassifyNetError(err)
		}
		return conn, nil
	}

	host, port, err := net.SplitHostPort(dest.Address)
	if err != nil {
		return nil, fmt.Errorf("address %q: %v: %w", dest.Address, err, apperrors.ErrUnsupportedDestination)
	}

	addrs := []string{host}
	if net.ParseIP(host) == nil {
		progress(pool.LoadStateResolvingHost)
		addrs, err = d.Resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, apperrors.ClassifyNetError(err)
		}
	}

	progress(pool.LoadStateConnecting)
	var firstErr error
	for _, addr := range addrs {
		conn, err := d.Dialer.DialContext(ctx, dest.network(), net.JoinHostPort(addr, port))
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	if firstErr == nil {
		return nil, fmt.Errorf("%s: no addresses: %w", host, apperrors.ErrNameNotResolved)
	}
	return nil, apperrors.ClassifyNetError(firstErr)
}

// TLSDialer wraps connections from an inner DialFunc in TLS.
type TLSDialer struct {
	Inner  DialFunc
	Config *tls.Config
}

// Dial implements DialFunc.
func (d *TLSDialer) Dial(ctx context.Context, dest Destination, progress ProgressFunc) (net.Conn, error) {
	raw, err := d.Inner(ctx, dest, progress)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{}
	if d.Config != nil {
		cfg = d.Config.Clone()
	}
	if dest.ServerName != "" || cfg.ServerName == "" {
		cfg.ServerName = dest.serverName()
	}

	progress(pool.LoadStateSSLHandshake)
	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		if ctx.Err() != nil {
			return nil, apperrors.ClassifyNetError(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTLSHandshake, err)
	}
	return conn, nil
}

// SOCKS5Dialer tunnels TCP streams through a SOCKS5 proxy.
type SOCKS5Dialer struct {
	dialer ContextDialer
	addr   string
}

// NewSOCKS5Dialer creates a dialer for the proxy at proxyAddr. auth may be
// nil. forward dials the proxy itself; nil means a plain net.Dialer.
func NewSOCKS5Dialer(proxyAddr string, auth *proxy.Auth, forward proxy.Dialer) (*SOCKS5Dialer, error) {
	if forward == nil {
		forward = &net.Dialer{}
	}
	d, err := proxy.SOCKS5("tcp", proxyAddr, auth, &recordingDialer{forward: forward})
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy %q: %v: %w", proxyAddr, err, apperrors.ErrConfiguration)
	}
	cd, ok := d.(ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 proxy %q: dialer does not support contexts: %w", proxyAddr, apperrors.ErrConfiguration)
	}
	return &SOCKS5Dialer{dialer: cd, addr: proxyAddr}, nil
}

// ProxyAddr returns the proxy address.
func (d *SOCKS5Dialer) ProxyAddr() string {
	return d.addr
}

// Dial implements DialFunc.
func (d *SOCKS5Dialer) Dial(ctx context.Context, dest Destination, progress ProgressFunc) (net.Conn, error) {
	progress(pool.LoadStateEstablishingProxyTunnel)
	var raw net.Conn
	conn, err := d.dialer.DialContext(context.WithValue(ctx, proxyConnKey{}, &raw), dest.network(), dest.Address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.ClassifyNetError(ctx.Err())
		}
		return nil, fmt.Errorf("%w: via %s: %w", apperrors.ErrProxyFailed, d.addr, err)
	}
	if raw == nil {
		return conn, nil
	}
	return &tunnelConn{Conn: conn, raw: raw}, nil
}

// proxyConnKey carries a slot for the connection to the proxy itself.
type proxyConnKey struct{}

// recordingDialer dials the proxy and stores the connection in the slot
// carried by ctx, if any.
type recordingDialer struct {
	forward proxy.Dialer
}

func (d *recordingDialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

func (d *recordingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	if cd, ok := d.forward.(ContextDialer); ok {
		conn, err = cd.DialContext(ctx, network, address)
	} else {
		conn, err = d.forward.Dial(network, address)
	}
	if err != nil {
		return nil, err
	}
	if slot, ok := ctx.Value(proxyConnKey{}).(*net.Conn); ok {
		*slot = conn
	}
	return conn, nil
}

// tunnelConn is a SOCKS5 tunnel. Once the handshake is done every byte on
// the proxy connection belongs to the tunnel, so the liveness check can
// look at it directly.
type tunnelConn struct {
	net.Conn
	raw net.Conn
}

// NetConn returns the connection to the proxy.
func (c *tunnelConn) NetConn() net.Conn {
	return c.raw
}
