package transport

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

// idleReadWait bounds how long IsConnectedAndIdle waits for the peer on a
// connection that has no file descriptor to peek at.
const idleReadWait = time.Millisecond

// ConnSocket adapts a net.Conn to pool.Socket.
//
// Reads go through a buffered reader so that the liveness check can peek at
// the connection without losing bytes.
type ConnSocket struct {
	mu     sync.Mutex
	conn   net.Conn
	br     *bufio.Reader
	closed bool
}

// NewConnSocket wraps conn.
func NewConnSocket(conn net.Conn) *ConnSocket {
	return &ConnSocket{
		conn: conn,
		br:   bufio.NewReader(conn),
	}
}

// Conn returns the underlying connection.
func (s *ConnSocket) Conn() net.Conn {
	return s.conn
}

func (s *ConnSocket) Read(b []byte) (int, error) {
	return s.br.Read(b)
}

// ReadBytes reads until the first occurrence of delim. Bytes after delim
// stay buffered for the next read.
func (s *ConnSocket) ReadBytes(delim byte) ([]byte, error) {
	return s.br.ReadBytes(delim)
}

func (s *ConnSocket) Write(b []byte) (int, error) {
	return s.conn.Write(b)
}

// LocalAddr returns the local network address.
func (s *ConnSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// RemoteAddr returns the remote network address.
func (s *ConnSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Disconnect closes the connection. Further calls do nothing.
func (s *ConnSocket) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// IsConnectedAndIdle reports whether the connection is open and the peer has
// sent nothing that has not been read. A socket with unread bytes is not
// reusable: the next user would see someone else's response.
//
// The check never blocks when the connection is backed by a socket file
// descriptor. Other connections, such as SAM streams, are given a short
// read deadline instead.
func (s *ConnSocket) IsConnectedAndIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.br.Buffered() > 0 {
		return false
	}

	raw, framed := underlyingConn(s.conn)
	switch peekConn(raw) {
	case peekEmpty:
		return true
	case peekClosed:
		log.WithField("remote", addrString(s.conn.RemoteAddr())).Debug("idle socket closed by peer")
		return false
	case peekData:
		// Under TLS the pending bytes may be a session ticket or an alert
		// rather than application data, so let the TLS layer decide.
		if !framed {
			return false
		}
	}
	return s.waitForData()
}

// waitForData peeks through the reader with a short deadline.
func (s *ConnSocket) waitForData() bool {
	if err := s.conn.SetReadDeadline(time.Now().Add(idleReadWait)); err != nil {
		return false
	}
	defer s.conn.SetReadDeadline(time.Time{})

	_, err := s.br.Peek(1)
	switch {
	case err == nil:
		return false
	case isTimeout(err):
		return true
	default:
		log.WithField("remote", addrString(s.conn.RemoteAddr())).
			WithError(err).
			Debug("idle socket closed by peer")
		return false
	}
}

type peekResult int

const (
	// peekUnsupported means the connection has no descriptor to peek at.
	peekUnsupported peekResult = iota
	peekEmpty
	peekData
	peekClosed
)

// netConner is implemented by connections that wrap another one, such as
// *tls.Conn and the SOCKS5 tunnels made by SOCKS5Dialer.
type netConner interface {
	NetConn() net.Conn
}

// underlyingConn unwraps conn down to the transport connection. framed is
// set when a TLS layer was removed on the way.
func underlyingConn(conn net.Conn) (raw net.Conn, framed bool) {
	for {
		switch c := conn.(type) {
		case *tls.Conn:
			conn = c.NetConn()
			framed = true
		case netConner:
			conn = c.NetConn()
		default:
			return conn, framed
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
