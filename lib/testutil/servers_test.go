package testutil

import (
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/net/proxy"
)

func TestEchoServer(t *testing.T) {
	srv := NewEchoServer(t)

	conn, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("echo = %q", buf)
	}
	if srv.Accepted() != 1 {
		t.Errorf("Accepted = %d, want 1", srv.Accepted())
	}

	srv.CloseConn(0)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(buf); err == nil {
		t.Error("read should fail after the server closed the connection")
	}

	// out of range is ignored
	srv.CloseConn(5)
}

func TestDeadAddr(t *testing.T) {
	if _, err := net.DialTimeout("tcp", DeadAddr(t), time.Second); err == nil {
		t.Error("dial to DeadAddr should fail")
	}
}

func TestSOCKS5Server(t *testing.T) {
	srv := NewEchoServer(t)
	dialer, err := proxy.SOCKS5("tcp", SOCKS5Server(t), nil, proxy.Direct)
	if err != nil {
		t.Fatalf("proxy.SOCKS5: %v", err)
	}

	conn, err := dialer.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial through proxy: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("hi"))
	buf := make([]byte, 2)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil || string(buf) != "hi" {
		t.Errorf("echo through proxy = %q, %v", buf, err)
	}

	if _, err := dialer.Dial("tcp", DeadAddr(t)); err == nil {
		t.Error("dial to a dead target through the proxy should fail")
	}
}

func TestWaitFor(t *testing.T) {
	n := 0
	WaitFor(t, time.Second, func() bool {
		n++
		return n == 3
	})
	if n != 3 {
		t.Errorf("cond called %d times, want 3", n)
	}
}

func TestSAMAddress(t *testing.T) {
	t.Setenv(SAMAddressEnv, "")
	if got := SAMAddress(); got != DefaultSAMAddress {
		t.Errorf("SAMAddress = %q, want %q", got, DefaultSAMAddress)
	}
	t.Setenv(SAMAddressEnv, "10.0.0.1:7656")
	if got := SAMAddress(); got != "10.0.0.1:7656" {
		t.Errorf("SAMAddress = %q", got)
	}
}
