package testutil

import (
	"net"
	"os"
	"testing"
	"time"
)

const (
	// DefaultSAMAddress is the SAM bridge address used by integration tests.
	DefaultSAMAddress = "127.0.0.1:7656"

	// SAMAddressEnv overrides DefaultSAMAddress.
	SAMAddressEnv = "SOCKPOOL_TEST_SAM"

	// DefaultDialTimeout is the timeout for SAM connectivity checks.
	DefaultDialTimeout = 5 * time.Second
)

// SAMAddress returns the SAM bridge address for integration tests.
func SAMAddress() string {
	if addr := os.Getenv(SAMAddressEnv); addr != "" {
		return addr
	}
	return DefaultSAMAddress
}

// RequireSAM skips the test unless a SAM bridge answers on SAMAddress.
// Integration tests need a running I2P router with SAM enabled.
func RequireSAM(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping I2P integration test in short mode")
	}
	addr := SAMAddress()
	conn, err := net.DialTimeout("tcp", addr, DefaultDialTimeout)
	if err != nil {
		t.Skipf("SAM bridge unavailable at %s: %v", addr, err)
	}
	conn.Close()
	return addr
}
