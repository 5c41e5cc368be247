package pool

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-i2p/sockpool/lib/loop"
)

var errConnectFailed = errors.New("connection failed")

// mockSocket is a mock socket for testing.
type mockSocket struct {
	id          int
	connected   bool
	unread      bool
	disconnects int
}

func (s *mockSocket) Read(b []byte) (int, error)  { return 0, io.EOF }
func (s *mockSocket) Write(b []byte) (int, error) { return len(b), nil }

func (s *mockSocket) Disconnect() error {
	s.connected = false
	s.disconnects++
	return nil
}

func (s *mockSocket) IsConnectedAndIdle() bool {
	return s.connected && !s.unread
}

// jobKind selects how a mock connect job behaves.
type jobKind int

const (
	jobOK          jobKind = iota // succeeds synchronously
	jobFail                       // fails synchronously
	jobPending                    // succeeds on the next loop turn
	jobPendingFail                // fails on the next loop turn
	jobWaiting                    // waits until completed by the test
)

// mockJob is a mock connect job for testing.
type mockJob struct {
	ConnectJobBase
	kind      jobKind
	factory   *mockJobFactory
	cancelled bool
}

func (j *mockJob) Connect() error {
	if err := j.Begin(); err != nil {
		return err
	}

	switch j.kind {
	case jobOK:
		j.Succeed(j.factory.newSocket())
		return nil
	case jobFail:
		j.Fail()
		return errConnectFailed
	case jobPending:
		j.factory.loop.Post(func() { j.complete(nil) })
		return ErrIOPending
	case jobPendingFail:
		j.factory.loop.Post(func() { j.complete(errConnectFailed) })
		return ErrIOPending
	default:
		j.factory.waiting = append(j.factory.waiting, j)
		return ErrIOPending
	}
}

// complete finishes the job as an asynchronous attempt would.
func (j *mockJob) complete(err error) {
	if j.cancelled {
		return
	}
	if err == nil {
		j.Succeed(j.factory.newSocket())
	} else {
		j.Fail()
	}
	j.NotifyDelegate(err, j)
}

func (j *mockJob) Cancel() {
	j.cancelled = true
	j.ConnectJobBase.Cancel()
}

// mockJobFactory creates mock connect jobs.
type mockJobFactory struct {
	loop    *loop.Loop
	kind    jobKind
	next    []jobKind // consumed before falling back to kind
	jobs    []*mockJob
	sockets []*mockSocket
	waiting []*mockJob
}

func (f *mockJobFactory) NewConnectJob(groupName string, req *Request, delegate ConnectJobDelegate) ConnectJob {
	kind := f.kind
	if len(f.next) > 0 {
		kind = f.next[0]
		f.next = f.next[1:]
	}
	j := &mockJob{
		ConnectJobBase: NewConnectJobBase(groupName, req, delegate),
		kind:           kind,
		factory:        f,
	}
	f.jobs = append(f.jobs, j)
	return j
}

func (f *mockJobFactory) newSocket() *mockSocket {
	s := &mockSocket{id: len(f.sockets) + 1, connected: true}
	f.sockets = append(f.sockets, s)
	return s
}

// popWaiting removes and returns the oldest waiting job.
func (f *mockJobFactory) popWaiting(t *testing.T) *mockJob {
	t.Helper()
	if len(f.waiting) == 0 {
		t.Fatal("no waiting connect job")
	}
	j := f.waiting[0]
	f.waiting = f.waiting[1:]
	return j
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// completionLog records callback invocations in order.
type completionLog struct {
	order []int
	errs  []error
}

func (c *completionLog) callback(id int) CompletionCallback {
	return func(err error) {
		c.order = append(c.order, id)
		c.errs = append(c.errs, err)
	}
}

// testPool builds a pool over a mock factory with a fake clock.
func testPool(t *testing.T, kind jobKind, maxSockets int) (*Pool, *mockJobFactory, *loop.Loop, *fakeClock) {
	t.Helper()

	l := loop.New()
	f := &mockJobFactory{loop: l, kind: kind}
	cfg := DefaultConfig()
	cfg.MaxSocketsPerGroup = maxSockets

	p := New(f, l, cfg)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	p.now = clock.Now

	t.Cleanup(func() {
		if !p.Closed() {
			p.Close()
		}
	})
	return p, f, l, clock
}

// checkInvariants verifies the slot bound and the idle counter.
func checkInvariants(t *testing.T, p *Pool) {
	t.Helper()

	idle, active, connecting, pending := 0, 0, 0, 0
	for name, g := range p.groups {
		active += g.activeSocketCount
		connecting += len(g.connecting)
		pending += len(g.pending)
		if g.activeSocketCount+len(g.connecting) > p.config.MaxSocketsPerGroup {
			t.Errorf("group %q: active %d + connecting %d exceeds limit %d",
				name, g.activeSocketCount, len(g.connecting), p.config.MaxSocketsPerGroup)
		}
		if g.isEmpty() {
			t.Errorf("group %q is empty but still registered", name)
		}
		idle += len(g.idle)
	}
	if idle != p.idleSocketCount {
		t.Errorf("idle counter = %d, sum over groups = %d", p.idleSocketCount, idle)
	}
	if active != p.activeTotal || connecting != p.connectingTotal || pending != p.pendingTotal {
		t.Errorf("totals active/connecting/pending = %d/%d/%d, sum over groups = %d/%d/%d",
			p.activeTotal, p.connectingTotal, p.pendingTotal, active, connecting, pending)
	}
	if (p.idleSocketCount > 0) != p.cleanupTimer.IsRunning() {
		t.Errorf("cleanup timer running = %v with %d idle sockets", p.cleanupTimer.IsRunning(), p.idleSocketCount)
	}
}

// mustPanic fails the test unless fn panics.
func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}
