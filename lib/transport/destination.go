// Package transport builds the connect jobs a pool uses to open sockets over
// plain TCP, TLS, a SOCKS5 proxy or the I2P network.
package transport

import (
	"fmt"
	"net"
	"strings"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

// Kind selects how a destination is reached.
type Kind string

const (
	// KindTCP is a direct TCP connection.
	KindTCP Kind = "tcp"
	// KindTLS is a direct TCP connection wrapped in TLS.
	KindTLS Kind = "tls"
	// KindSOCKS5 is a TCP stream tunnelled through a SOCKS5 proxy.
	KindSOCKS5 Kind = "socks5"
	// KindI2P is an I2P streaming connection opened through a SAM bridge.
	KindI2P Kind = "i2p"
)

// ParseKind parses a transport name. An empty name means KindTCP.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindTCP, nil
	case KindTCP, KindTLS, KindSOCKS5, KindI2P:
		return k, nil
	default:
		return "", fmt.Errorf("transport %q: %w", s, apperrors.ErrUnsupportedDestination)
	}
}

// Destination describes where a group's sockets connect to. It is passed to
// the pool as the request destination.
type Destination struct {
	// Kind selects the connect strategy.
	Kind Kind
	// Network is the network passed to the dialer. "unix" dials the socket
	// path in Address and is only valid for KindTCP.
	// Default: "tcp"
	Network string
	// Address is host:port for tcp, tls and socks5, a socket path for unix,
	// or an I2P destination (base32, base64 or address book hostname) for
	// i2p.
	Address string
	// ServerName overrides the TLS server name. Defaults to the host part of
	// Address.
	ServerName string
}

// Validate checks that the destination can be dialed.
func (d Destination) Validate() error {
	if d.Address == "" {
		return fmt.Errorf("empty address: %w", apperrors.ErrUnsupportedDestination)
	}
	if _, err := ParseKind(string(d.Kind)); err != nil {
		return err
	}

	if d.network() == "unix" {
		if d.Kind != "" && d.Kind != KindTCP {
			return fmt.Errorf("unix socket with %s transport: %w", d.Kind, apperrors.ErrUnsupportedDestination)
		}
		return nil
	}

	switch d.Kind {
	case KindI2P:
		if _, err := ParseI2PAddr(d.Address); err != nil {
			return err
		}
	default:
		if _, _, err := net.SplitHostPort(d.Address); err != nil {
			return fmt.Errorf("address %q: %v: %w", d.Address, err, apperrors.ErrUnsupportedDestination)
		}
	}
	return nil
}

// network returns the dial network.
func (d Destination) network() string {
	if d.Network == "" {
		return "tcp"
	}
	return d.Network
}

// serverName returns the name to verify the TLS certificate against.
func (d Destination) serverName() string {
	if d.ServerName != "" {
		return d.ServerName
	}
	host, _, err := net.SplitHostPort(d.Address)
	if err != nil {
		return d.Address
	}
	return host
}

// GroupName returns the canonical pool group name for the destination.
// Destinations reached differently never share sockets.
func (d Destination) GroupName() string {
	if d.network() == "unix" {
		return "unix://" + d.Address
	}
	kind := d.Kind
	if kind == "" {
		kind = KindTCP
	}
	name := string(kind) + "://" + d.Address
	if kind == KindTLS && d.ServerName != "" {
		name += "#" + d.ServerName
	}
	return name
}

func (d Destination) String() string {
	return d.GroupName()
}
