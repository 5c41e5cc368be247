package pool

import (
	"fmt"
	"sort"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/loop"
)

// Default configuration values
const (
	DefaultMaxSocketsPerGroup = 6
	DefaultIdleTimeout        = 5 * time.Minute
	DefaultCleanupInterval    = 10 * time.Second
)

// Config configures the pool.
type Config struct {
	// MaxSocketsPerGroup bounds active sockets plus in-flight connect jobs
	// per group.
	// Default: 6
	MaxSocketsPerGroup int
	// IdleTimeout is how long a returned socket may sit idle before the
	// cleanup timer closes it.
	// Default: 5 minutes
	IdleTimeout time.Duration
	// CleanupInterval is how often idle sockets are checked while any exist.
	// Default: 10 seconds
	CleanupInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSocketsPerGroup: DefaultMaxSocketsPerGroup,
		IdleTimeout:        DefaultIdleTimeout,
		CleanupInterval:    DefaultCleanupInterval,
	}
}

// Pool brokers reusable sockets to named groups.
//
// All methods must be called on the goroutine that drives the pool's loop.
// Connect jobs deliver their results by posting onto the same loop, so no
// locking is needed.
type Pool struct {
	config  Config
	factory ConnectJobFactory
	loop    *loop.Loop
	now     func() time.Time

	groups          map[string]*group
	idleSocketCount int
	// Totals over all groups, kept in step with the group collections so
	// the gauges can be published without walking every group.
	activeTotal     int
	connectingTotal int
	pendingTotal    int
	connectJobs     map[RequestID]ConnectJob
	cleanupTimer    *loop.RepeatingTimer
	lastID          RequestID
	closed          bool

	// Lifetime counters
	requestCount uint64
	reuseCount   uint64
	jobsStarted  uint64
	jobsFailed   uint64
	evictedCount uint64
}

// New creates a pool that builds connections with factory and defers work
// onto l.
func New(factory ConnectJobFactory, l *loop.Loop, cfg Config) *Pool {
	if factory == nil {
		panic(fmt.Errorf("pool: nil connect job factory: %w", apperrors.ErrInvalidInput))
	}
	if l == nil {
		panic(fmt.Errorf("pool: nil loop: %w", apperrors.ErrInvalidInput))
	}
	if cfg.MaxSocketsPerGroup <= 0 {
		cfg.MaxSocketsPerGroup = DefaultMaxSocketsPerGroup
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	p := &Pool{
		config:      cfg,
		factory:     factory,
		loop:        l,
		now:         time.Now,
		groups:      make(map[string]*group),
		connectJobs: make(map[RequestID]ConnectJob),
	}
	p.cleanupTimer = loop.NewRepeatingTimer(l, cfg.CleanupInterval, p.cleanupIdleSockets)

	PoolMaxSocketsPerGroup.Set(int64(cfg.MaxSocketsPerGroup))
	log.WithField("maxSocketsPerGroup", cfg.MaxSocketsPerGroup).
		WithField("idleTimeout", cfg.IdleTimeout).
		Debug("pool created")
	return p
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.config
}

// RequestSocket asks for a socket in groupName for handle h.
//
// It returns nil if h now holds a socket, ErrIOPending if callback will be
// run later with the result, or the connect job's error on synchronous
// failure. An empty group name, a negative priority, a nil handle or a nil
// callback are programming errors and panic.
func (p *Pool) RequestSocket(groupName string, dest any, priority int, h *Handle, callback CompletionCallback) error {
	if groupName == "" {
		panic(fmt.Errorf("pool: empty group name: %w", apperrors.ErrInvalidInput))
	}
	if priority < 0 {
		panic(fmt.Errorf("pool: negative priority %d: %w", priority, apperrors.ErrInvalidInput))
	}
	if h == nil || callback == nil {
		panic(fmt.Errorf("pool: nil handle or callback: %w", apperrors.ErrInvalidInput))
	}
	defer p.updateMetrics()

	p.requestCount++
	PoolRequestsTotal.Inc()

	if p.closed {
		return ErrPoolClosed
	}

	p.lastID++
	req := &Request{
		id:        p.lastID,
		handle:    h,
		priority:  priority,
		callback:  callback,
		dest:      dest,
		createdAt: p.now(),
	}
	return p.requestSocket(groupName, req)
}

// requestSocket serves req immediately, starts a connect job for it, or
// queues it when the group has no free slot.
func (p *Pool) requestSocket(groupName string, req *Request) error {
	g, ok := p.groups[groupName]
	if !ok {
		g = newGroup()
		p.groups[groupName] = g
	}

	if !g.hasAvailableSlot(p.config.MaxSocketsPerGroup) {
		g.insertPending(req)
		p.pendingTotal++
		req.handle.requestID = req.id
		log.WithField("group", groupName).
			WithField("priority", req.priority).
			WithField("pending", len(g.pending)).
			Debug("no socket slot available, request queued")
		return ErrIOPending
	}

	for {
		idle, ok := g.popIdle()
		if !ok {
			break
		}
		p.decrementIdleCount()
		if idle.socket.IsConnectedAndIdle() {
			p.reuseCount++
			PoolReusedTotal.Inc()
			p.handOutSocket(idle.socket, true, req, g)
			return nil
		}
		log.WithField("group", groupName).Debug("discarding dead idle socket")
		idle.socket.Disconnect()
	}

	job := p.factory.NewConnectJob(groupName, req, p)
	p.jobsStarted++
	PoolConnectJobsTotal.Inc()

	err := job.Connect()
	switch {
	case err == nil:
		p.handOutSocket(job.ReleaseSocket(), false, req, g)
		return nil
	case IsPending(err):
		g.connecting[req.id] = req
		p.connectingTotal++
		p.connectJobs[req.id] = job
		req.handle.requestID = req.id
		return ErrIOPending
	default:
		p.jobsFailed++
		PoolConnectJobsFailedTotal.Inc()
		log.WithField("group", groupName).WithError(err).Debug("connect job failed synchronously")
		if g.isEmpty() {
			delete(p.groups, groupName)
		}
		return err
	}
}

// handOutSocket gives s to the request's handle and counts it as active.
func (p *Pool) handOutSocket(s Socket, reused bool, req *Request, g *group) {
	if s == nil {
		panic(fmt.Errorf("pool: connect job produced no socket: %w", apperrors.ErrInvalidState))
	}
	h := req.handle
	h.socket = s
	h.reused = reused
	h.requestID = 0
	g.activeSocketCount++
	p.activeTotal++

	PoolRequestLatency.Observe(p.now().Sub(req.createdAt).Seconds())
}

// CancelRequest abandons the outstanding request of h without running its
// callback. Cancelling a handle with no outstanding request panics.
func (p *Pool) CancelRequest(groupName string, h *Handle) {
	defer p.updateMetrics()

	g, ok := p.groups[groupName]
	if !ok || h.requestID == 0 {
		panic(fmt.Errorf("cancel in group %q: %w", groupName, ErrUnknownRequest))
	}
	id := h.requestID

	if _, ok := g.removePending(id); ok {
		p.pendingTotal--
		h.requestID = 0
		if g.isEmpty() {
			delete(p.groups, groupName)
		}
		log.WithField("group", groupName).Debug("cancelled queued request")
		return
	}

	if _, ok := g.connecting[id]; !ok {
		panic(fmt.Errorf("cancel in group %q: %w", groupName, ErrUnknownRequest))
	}
	job := p.connectJobs[id]
	delete(g.connecting, id)
	p.connectingTotal--
	delete(p.connectJobs, id)
	h.requestID = 0
	if job != nil {
		job.Cancel()
	}
	log.WithField("group", groupName).Debug("cancelled connecting request")

	p.processPendingRequests(groupName)
}

// ReleaseSocket returns a socket that was handed out for groupName. The
// release is posted onto the loop so it never re-enters the pool while the
// caller is still running.
func (p *Pool) ReleaseSocket(groupName string, s Socket) {
	PoolReleasesTotal.Inc()
	p.loop.Post(func() {
		p.doReleaseSocket(groupName, s)
	})
}

func (p *Pool) doReleaseSocket(groupName string, s Socket) {
	defer p.updateMetrics()

	g, ok := p.groups[groupName]
	if !ok || g.activeSocketCount == 0 {
		panic(fmt.Errorf("pool: release in group %q without an active socket: %w", groupName, apperrors.ErrInvalidState))
	}
	g.activeSocketCount--
	p.activeTotal--

	if !p.closed && s.IsConnectedAndIdle() {
		g.idle = append(g.idle, idleSocket{socket: s, idleSince: p.now()})
		p.incrementIdleCount()
	} else {
		log.WithField("group", groupName).Debug("released socket not reusable, closing")
		s.Disconnect()
	}

	p.processPendingRequests(groupName)
}

// processPendingRequests hands freed slots to queued requests until the
// queue is empty or the group is at its limit. A request that fails does not
// stop the queue. Empty groups are removed.
func (p *Pool) processPendingRequests(groupName string) {
	for {
		g, ok := p.groups[groupName]
		if !ok {
			return
		}
		if len(g.pending) == 0 || !g.hasAvailableSlot(p.config.MaxSocketsPerGroup) {
			if g.isEmpty() {
				delete(p.groups, groupName)
			}
			return
		}

		req := g.popPending()
		p.pendingTotal--
		req.handle.requestID = 0
		err := p.requestSocket(groupName, req)
		if IsPending(err) {
			continue
		}
		req.callback(err)
	}
}

// OnConnectJobComplete implements ConnectJobDelegate. It is called on the
// loop goroutine when an asynchronous connect job finishes.
func (p *Pool) OnConnectJobComplete(err error, job ConnectJob) {
	defer p.updateMetrics()

	groupName := job.GroupName()
	id := job.RequestID()

	g, ok := p.groups[groupName]
	if !ok {
		panic(fmt.Errorf("pool: completion for unknown group %q: %w", groupName, apperrors.ErrInvalidState))
	}
	req, ok := g.connecting[id]
	if !ok {
		panic(fmt.Errorf("pool: completion for request %d in group %q: %w", id, groupName, ErrUnknownRequest))
	}
	delete(g.connecting, id)
	p.connectingTotal--
	delete(p.connectJobs, id)
	req.handle.requestID = 0

	if err == nil {
		p.handOutSocket(job.ReleaseSocket(), false, req, g)
		req.callback(nil)
		return
	}

	p.jobsFailed++
	PoolConnectJobsFailedTotal.Inc()
	log.WithField("group", groupName).WithError(err).Debug("connect job failed")

	req.callback(err)
	p.processPendingRequests(groupName)
}

// CloseIdleSockets closes every idle socket regardless of age.
func (p *Pool) CloseIdleSockets() {
	defer p.updateMetrics()
	p.cleanupIdleSocketsWith(true)
}

// cleanupIdleSockets is the cleanup timer callback.
func (p *Pool) cleanupIdleSockets() {
	defer p.updateMetrics()
	p.cleanupIdleSocketsWith(false)
}

// cleanupIdleSocketsWith evicts expired or dead idle sockets, or all of them
// when force is set, and drops groups left empty.
func (p *Pool) cleanupIdleSocketsWith(force bool) {
	if p.idleSocketCount == 0 {
		return
	}

	now := p.now()
	evicted := 0
	for name, g := range p.groups {
		kept := g.idle[:0]
		for _, s := range g.idle {
			if force || s.shouldCleanup(now, p.config.IdleTimeout) {
				s.socket.Disconnect()
				p.decrementIdleCount()
				evicted++
				continue
			}
			kept = append(kept, s)
		}
		for i := len(kept); i < len(g.idle); i++ {
			g.idle[i] = idleSocket{}
		}
		g.idle = kept

		if g.isEmpty() {
			delete(p.groups, name)
		}
	}

	if evicted > 0 {
		p.evictedCount += uint64(evicted)
		PoolIdleEvictedTotal.Add(uint64(evicted))
		log.WithField("closed", evicted).WithField("forced", force).Debug("idle socket cleanup")
	}
}

func (p *Pool) incrementIdleCount() {
	p.idleSocketCount++
	if p.idleSocketCount == 1 {
		p.cleanupTimer.Start()
	}
}

func (p *Pool) decrementIdleCount() {
	p.idleSocketCount--
	if p.idleSocketCount == 0 {
		p.cleanupTimer.Stop()
	}
}

// IdleSocketCount returns the number of idle sockets across all groups.
func (p *Pool) IdleSocketCount() int {
	return p.idleSocketCount
}

// IdleSocketCountInGroup returns the number of idle sockets in groupName.
func (p *Pool) IdleSocketCountInGroup(groupName string) int {
	g, ok := p.groups[groupName]
	if !ok {
		return 0
	}
	return len(g.idle)
}

// LoadState reports what h's outstanding request in groupName is waiting on.
func (p *Pool) LoadState(groupName string, h *Handle) LoadState {
	g, ok := p.groups[groupName]
	if !ok || h.requestID == 0 {
		return LoadStateIdle
	}
	if _, ok := g.connecting[h.requestID]; ok {
		if job, ok := p.connectJobs[h.requestID]; ok {
			return job.LoadState()
		}
		return LoadStateConnecting
	}
	if g.hasPending(h.requestID) {
		return LoadStateWaitingForAvailableSocket
	}
	return LoadStateIdle
}

// Close shuts the pool down. Idle sockets are closed, in-flight connect jobs
// are cancelled and every outstanding request is completed with
// ErrPoolClosed. Sockets still held by handles are closed when released.
func (p *Pool) Close() error {
	if p.closed {
		return ErrPoolClosed
	}
	defer p.updateMetrics()

	p.closed = true
	p.cleanupIdleSocketsWith(true)
	p.cleanupTimer.Stop()

	var failed []*Request
	for id, job := range p.connectJobs {
		job.Cancel()
		delete(p.connectJobs, id)
	}
	for name, g := range p.groups {
		for id, req := range g.connecting {
			failed = append(failed, req)
			delete(g.connecting, id)
			p.connectingTotal--
		}
		for req := g.popPending(); req != nil; req = g.popPending() {
			failed = append(failed, req)
			p.pendingTotal--
		}
		if g.isEmpty() {
			delete(p.groups, name)
		}
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].id < failed[j].id })
	for _, req := range failed {
		req.handle.requestID = 0
		req.callback(ErrPoolClosed)
	}

	log.WithField("failedRequests", len(failed)).Debug("pool closed")
	return nil
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	return p.closed
}
