package pool

import (
	"errors"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

// ErrIOPending is returned by RequestSocket, Handle.Init and ConnectJob.Connect
// when the operation will complete later through a callback. It is not a failure.
var ErrIOPending = errors.New("pool: operation pending")

// These are aliases to the central error definitions in lib/errors.
var (
	ErrPoolClosed     = apperrors.ErrPoolClosed
	ErrUnknownRequest = apperrors.ErrUnknownRequest
	ErrHandleInUse    = apperrors.ErrHandleInUse
)

// IsPending reports whether err means the operation has not completed yet.
func IsPending(err error) bool {
	return errors.Is(err, ErrIOPending)
}
