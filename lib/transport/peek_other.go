//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package transport

import "net"

func peekConn(net.Conn) peekResult {
	return peekUnsupported
}
