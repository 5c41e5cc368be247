package pool

import (
	"sort"
)

// GroupStats is a snapshot of one group.
type GroupStats struct {
	Name       string
	Idle       int
	Active     int
	Connecting int
	Pending    int
}

// Stats is a snapshot of the pool.
type Stats struct {
	// MaxSocketsPerGroup is the per-group limit.
	MaxSocketsPerGroup int
	// Groups is the number of live groups.
	Groups int
	// IdleSockets is the number of idle sockets across groups.
	IdleSockets int
	// ActiveSockets is the number of sockets held by handles.
	ActiveSockets int
	// ConnectingRequests is the number of in-flight connect jobs.
	ConnectingRequests int
	// PendingRequests is the number of queued requests.
	PendingRequests int
	// RequestCount is the total number of RequestSocket calls.
	RequestCount uint64
	// ReuseCount is the number of requests served from an idle socket.
	ReuseCount uint64
	// ConnectJobsStarted is the number of connect jobs created.
	ConnectJobsStarted uint64
	// ConnectJobsFailed is the number of connect jobs that failed.
	ConnectJobsFailed uint64
	// EvictedCount is the number of idle sockets closed by cleanup.
	EvictedCount uint64
	// PerGroup holds per-group snapshots sorted by name.
	PerGroup []GroupStats
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	s := Stats{
		MaxSocketsPerGroup: p.config.MaxSocketsPerGroup,
		Groups:             len(p.groups),
		IdleSockets:        p.idleSocketCount,
		RequestCount:       p.requestCount,
		ReuseCount:         p.reuseCount,
		ConnectJobsStarted: p.jobsStarted,
		ConnectJobsFailed:  p.jobsFailed,
		EvictedCount:       p.evictedCount,
		PerGroup:           make([]GroupStats, 0, len(p.groups)),
	}

	for name, g := range p.groups {
		gs := GroupStats{
			Name:       name,
			Idle:       len(g.idle),
			Active:     g.activeSocketCount,
			Connecting: len(g.connecting),
			Pending:    len(g.pending),
		}
		s.ActiveSockets += gs.Active
		s.ConnectingRequests += gs.Connecting
		s.PendingRequests += gs.Pending
		s.PerGroup = append(s.PerGroup, gs)
	}
	sort.Slice(s.PerGroup, func(i, j int) bool { return s.PerGroup[i].Name < s.PerGroup[j].Name })

	return s
}

// updateMetrics publishes the current gauges from the running totals.
func (p *Pool) updateMetrics() {
	PoolGroups.Set(int64(len(p.groups)))
	PoolSocketsIdle.Set(int64(p.idleSocketCount))
	PoolSocketsActive.Set(int64(p.activeTotal))
	PoolRequestsConnecting.Set(int64(p.connectingTotal))
	PoolRequestsPending.Set(int64(p.pendingTotal))
}
