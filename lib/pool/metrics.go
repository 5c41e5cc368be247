package pool

import "github.com/go-i2p/sockpool/lib/metrics"

// Pool utilization metrics
var (
	// PoolMaxSocketsPerGroup is the configured per-group limit.
	PoolMaxSocketsPerGroup = metrics.NewGauge(
		"sockpool_pool_max_sockets_per_group",
		"Maximum number of active plus connecting sockets per group",
	)
	// PoolGroups is the number of live groups.
	PoolGroups = metrics.NewGauge(
		"sockpool_pool_groups",
		"Current number of groups with sockets or requests",
	)
	// PoolSocketsIdle is the current number of idle sockets.
	PoolSocketsIdle = metrics.NewGauge(
		"sockpool_pool_sockets_idle",
		"Current number of idle sockets in the pool",
	)
	// PoolSocketsActive is the number of sockets held by handles.
	PoolSocketsActive = metrics.NewGauge(
		"sockpool_pool_sockets_active",
		"Number of sockets currently handed out",
	)
	// PoolRequestsConnecting is the number of in-flight connect jobs.
	PoolRequestsConnecting = metrics.NewGauge(
		"sockpool_pool_requests_connecting",
		"Number of requests waiting on a connect job",
	)
	// PoolRequestsPending is the number of queued requests.
	PoolRequestsPending = metrics.NewGauge(
		"sockpool_pool_requests_pending",
		"Number of requests queued behind the per-group limit",
	)
	// PoolRequestsTotal is the total number of socket requests.
	PoolRequestsTotal = metrics.NewCounter(
		"sockpool_pool_requests_total",
		"Total number of socket requests",
	)
	// PoolReusedTotal is the number of requests served by an idle socket.
	PoolReusedTotal = metrics.NewCounter(
		"sockpool_pool_reused_total",
		"Total number of requests served from an idle socket",
	)
	// PoolConnectJobsTotal is the number of connect jobs started.
	PoolConnectJobsTotal = metrics.NewCounter(
		"sockpool_pool_connect_jobs_total",
		"Total number of connect jobs started",
	)
	// PoolConnectJobsFailedTotal is the number of failed connect jobs.
	PoolConnectJobsFailedTotal = metrics.NewCounter(
		"sockpool_pool_connect_jobs_failed_total",
		"Total number of connect jobs that failed",
	)
	// PoolReleasesTotal is the number of socket releases.
	PoolReleasesTotal = metrics.NewCounter(
		"sockpool_pool_release_total",
		"Total number of socket releases",
	)
	// PoolIdleEvictedTotal is the number of idle sockets closed by cleanup.
	PoolIdleEvictedTotal = metrics.NewCounter(
		"sockpool_pool_idle_evicted_total",
		"Total number of idle sockets closed by cleanup",
	)
	// PoolRequestLatency tracks time from request to hand-out.
	PoolRequestLatency = metrics.NewHistogram(
		"sockpool_pool_request_duration_seconds",
		"Time from socket request to hand-out",
		metrics.DefaultLatencyBuckets,
	)
)
