package resilience

import (
	"context"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

// ErrCircuitOpen is returned by Allow while a breaker rejects attempts.
var ErrCircuitOpen = apperrors.ErrCircuitOpen

// counts reports whether a connect result should move a breaker. Aborted
// attempts and caller mistakes say nothing about the destination's health.
func counts(err error) bool {
	switch {
	case err == nil:
		return true
	case apperrors.Is(err, apperrors.ErrAborted),
		apperrors.Is(err, context.Canceled),
		apperrors.IsInvalidInput(err),
		apperrors.IsRateLimited(err),
		apperrors.Is(err, ErrCircuitOpen):
		return false
	default:
		return true
	}
}
