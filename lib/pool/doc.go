// Package pool brokers reusable client sockets to named destination groups.
//
// The pool supports:
//   - A per-group bound on active sockets plus in-flight connect attempts
//   - LIFO reuse of idle sockets that are still connected
//   - A priority-ordered wait queue, FIFO among equal priorities
//   - Pluggable connect strategies through ConnectJobFactory
//   - Expiry of idle sockets on a timer that runs only while idle sockets exist
//   - Metrics for pool utilization
//
// # Threading
//
// Pool, Handle and every ConnectJob are owned by one goroutine: the one that
// drives the loop.Loop passed to New. Connect jobs do their blocking work
// elsewhere and post their completion back onto the loop. Returning a socket
// is posted too, so a callback that releases a socket never re-enters the
// pool's bookkeeping for the group it is being called from.
//
// # Basic Usage
//
//	l := loop.New()
//	p := pool.New(factory, l, pool.DefaultConfig())
//
//	h := pool.NewHandle(p)
//	err := h.Init("example.org:443", dest, 1, func(err error) {
//	    if err != nil {
//	        return
//	    }
//	    use(h.Socket())
//	    h.Reset()
//	})
//	switch {
//	case err == nil:
//	    use(h.Socket())
//	    h.Reset()
//	case pool.IsPending(err):
//	    // the callback runs later, on the loop
//	default:
//	    // synchronous connect failure
//	}
//
//	go l.Run(ctx)
//
// # Metrics
//
// Pool utilization metrics are automatically registered with the metrics package:
//   - sockpool_pool_max_sockets_per_group: Per-group limit
//   - sockpool_pool_groups: Live groups
//   - sockpool_pool_sockets_idle: Idle sockets
//   - sockpool_pool_sockets_active: Sockets handed out
//   - sockpool_pool_requests_connecting: Requests waiting on a connect job
//   - sockpool_pool_requests_pending: Requests queued behind the limit
//   - sockpool_pool_requests_total: Socket requests
//   - sockpool_pool_reused_total: Requests served from an idle socket
//   - sockpool_pool_connect_jobs_total: Connect jobs started
//   - sockpool_pool_connect_jobs_failed_total: Connect jobs failed
//   - sockpool_pool_release_total: Socket releases
//   - sockpool_pool_idle_evicted_total: Idle sockets closed by cleanup
//   - sockpool_pool_request_duration_seconds: Request to hand-out latency
package pool
