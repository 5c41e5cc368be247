package pool

import (
	"io"
)

// Socket is a connected, reusable transport produced by a ConnectJob.
// The pool never reads or writes it; it only asks whether it can be reused.
type Socket interface {
	io.ReadWriter

	// Disconnect closes the underlying connection.
	Disconnect() error

	// IsConnectedAndIdle reports whether the socket is still connected and
	// has no unread data, which makes it safe to hand to a new user.
	IsConnectedAndIdle() bool
}

// CompletionCallback receives the result of an operation that returned
// ErrIOPending. A nil error means success.
type CompletionCallback func(err error)

// LoadState describes what an outstanding socket request is waiting on.
type LoadState int

const (
	// LoadStateIdle means nothing is outstanding.
	LoadStateIdle LoadState = iota
	// LoadStateWaitingForAvailableSocket means the request is queued behind
	// the group's socket limit.
	LoadStateWaitingForAvailableSocket
	// LoadStateResolvingHost means the connect job is resolving the destination.
	LoadStateResolvingHost
	// LoadStateConnecting means the connect job is establishing the transport.
	LoadStateConnecting
	// LoadStateEstablishingProxyTunnel means a SOCKS or SAM handshake is in progress.
	LoadStateEstablishingProxyTunnel
	// LoadStateSSLHandshake means the TLS handshake is in progress.
	LoadStateSSLHandshake
)

func (s LoadState) String() string {
	switch s {
	case LoadStateIdle:
		return "idle"
	case LoadStateWaitingForAvailableSocket:
		return "waiting-for-available-socket"
	case LoadStateResolvingHost:
		return "resolving-host"
	case LoadStateConnecting:
		return "connecting"
	case LoadStateEstablishingProxyTunnel:
		return "establishing-proxy-tunnel"
	case LoadStateSSLHandshake:
		return "ssl-handshake"
	default:
		return "unknown"
	}
}
