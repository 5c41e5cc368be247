package transport

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/go-i2p/i2pkeys"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

const (
	b32Suffix = ".b32.i2p"
	i2pSuffix = ".i2p"
)

var b32Encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// ParseI2PAddr validates an I2P destination and returns the string to hand to
// the SAM bridge. Base32 addresses and address book hostnames pass through
// lower-cased. Full base64 destinations are parsed and shortened to their
// base32 form.
func ParseI2PAddr(s string) (string, error) {
	addr := strings.TrimSpace(s)
	if host, _, ok := strings.Cut(addr, ":"); ok {
		addr = host
	}
	lower := strings.ToLower(addr)

	switch {
	case strings.HasSuffix(lower, b32Suffix):
		label := strings.TrimSuffix(lower, b32Suffix)
		// 52 characters for a plain hash, 56 or more for encrypted leasesets.
		if len(label) < 52 {
			return "", fmt.Errorf("i2p address %q: short base32 label: %w", s, apperrors.ErrUnsupportedDestination)
		}
		if _, err := b32Encoding.DecodeString(label); err != nil {
			return "", fmt.Errorf("i2p address %q: %v: %w", s, err, apperrors.ErrUnsupportedDestination)
		}
		return lower, nil
	case strings.HasSuffix(lower, i2pSuffix):
		if len(lower) == len(i2pSuffix) {
			return "", fmt.Errorf("i2p address %q: empty hostname: %w", s, apperrors.ErrUnsupportedDestination)
		}
		return lower, nil
	default:
		dest, err := i2pkeys.NewI2PAddrFromString(addr)
		if err != nil {
			return "", fmt.Errorf("i2p address %q: %v: %w", s, err, apperrors.ErrUnsupportedDestination)
		}
		return dest.Base32(), nil
	}
}
