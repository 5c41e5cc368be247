package transport

import (
	"github.com/go-i2p/sockpool/lib/metrics"
)

// Dial metrics for Prometheus exposition.
var (
	// DialsTotal counts dial attempts started.
	DialsTotal = metrics.NewCounter(
		"sockpool_dials_total",
		"Total dial attempts started by connect jobs",
	)

	// DialFailures counts dial attempts that failed.
	DialFailures = metrics.NewCounter(
		"sockpool_dial_failures_total",
		"Total dial attempts that failed",
	)

	// DialRejections counts connect jobs refused before dialing.
	DialRejections = metrics.NewCounter(
		"sockpool_dial_rejections_total",
		"Total connect jobs refused by a breaker, upstream probe or rate limiter",
	)

	// DialDuration observes how long dials take.
	DialDuration = metrics.NewHistogram(
		"sockpool_dial_duration_seconds",
		"Dial attempt duration in seconds",
		metrics.DefaultLatencyBuckets,
	)
)
