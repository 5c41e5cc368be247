package ratelimit

import (
	"github.com/go-i2p/sockpool/lib/metrics"
)

// Rejections counts connect attempts refused for lack of tokens.
var Rejections = metrics.NewCounter(
	"sockpool_ratelimit_rejections_total",
	"Total connect attempts rejected by the per-group rate limiter",
)
