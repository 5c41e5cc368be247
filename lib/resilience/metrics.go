package resilience

import (
	"github.com/go-i2p/sockpool/lib/metrics"
)

// Breaker and probe metrics for Prometheus exposition.
var (
	// BreakersOpen counts breakers currently open.
	BreakersOpen = metrics.NewGauge(
		"sockpool_breakers_open",
		"Number of circuit breakers currently rejecting connect attempts",
	)

	// BreakerTrips counts the number of times breakers have opened.
	BreakerTrips = metrics.NewCounter(
		"sockpool_breaker_trips_total",
		"Total number of times circuit breakers have opened",
	)

	// BreakerSuccesses counts connect successes seen by breakers.
	BreakerSuccesses = metrics.NewCounter(
		"sockpool_breaker_successes_total",
		"Total successful connect attempts seen by circuit breakers",
	)

	// BreakerFailures counts connect failures seen by breakers.
	BreakerFailures = metrics.NewCounter(
		"sockpool_breaker_failures_total",
		"Total failed connect attempts seen by circuit breakers",
	)

	// BreakerRejections counts attempts rejected by open breakers.
	BreakerRejections = metrics.NewCounter(
		"sockpool_breaker_rejections_total",
		"Total connect attempts rejected by open circuit breakers",
	)

	// UpstreamsUnhealthy counts probed upstreams that are not answering.
	UpstreamsUnhealthy = metrics.NewGauge(
		"sockpool_upstreams_unhealthy",
		"Number of probed upstream proxies that failed their last probe",
	)

	// UpstreamProbeFailures counts failed upstream probes.
	UpstreamProbeFailures = metrics.NewCounter(
		"sockpool_upstream_probe_failures_total",
		"Total failed upstream reachability probes",
	)
)
