//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package transport

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// peekConn looks at the socket receive queue without blocking and without
// consuming anything.
func peekConn(conn net.Conn) peekResult {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return peekUnsupported
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return peekUnsupported
	}

	var (
		buf  [1]byte
		n    int
		rerr error
	)
	err = rc.Read(func(fd uintptr) bool {
		n, _, rerr = unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		return true
	})
	switch {
	case err != nil:
		return peekClosed
	case n > 0:
		return peekData
	case errors.Is(rerr, unix.EAGAIN), errors.Is(rerr, unix.EWOULDBLOCK):
		return peekEmpty
	case errors.Is(rerr, unix.EINTR):
		return peekUnsupported
	default:
		// A zero-length read is an orderly shutdown by the peer.
		return peekClosed
	}
}
