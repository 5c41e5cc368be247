package pool

import (
	"fmt"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

// JobState is the lifecycle state of a ConnectJob.
//
//	NotStarted -> Connecting -> Succeeded
//	                         -> Failed
type JobState int

const (
	// JobNotStarted is the state before Connect is called.
	JobNotStarted JobState = iota
	// JobConnecting means the attempt is in flight.
	JobConnecting
	// JobSucceeded means a socket was produced.
	JobSucceeded
	// JobFailed means the attempt failed or was cancelled.
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobNotStarted:
		return "not-started"
	case JobConnecting:
		return "connecting"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectJob is a one-shot attempt to produce a connected Socket.
//
// Connect returns nil when the socket is ready immediately, ErrIOPending when
// the result will be delivered later through the delegate, or any other error
// on synchronous failure. The delegate is invoked on the loop goroutine at
// most once, and never after Cancel.
type ConnectJob interface {
	// GroupName returns the group the job connects for.
	GroupName() string
	// RequestID identifies the request the job was created for.
	RequestID() RequestID
	// Connect starts the attempt.
	Connect() error
	// ReleaseSocket transfers ownership of the connected socket to the caller.
	// It returns nil if the job has not succeeded or the socket was taken.
	ReleaseSocket() Socket
	// State returns the job lifecycle state.
	State() JobState
	// LoadState returns what the job is currently waiting on.
	LoadState() LoadState
	// Cancel aborts the attempt, destroys any socket the job still owns and
	// guarantees the delegate will not be called. Cancel is idempotent.
	Cancel()
}

// ConnectJobDelegate is told when an asynchronous ConnectJob finishes.
type ConnectJobDelegate interface {
	OnConnectJobComplete(err error, job ConnectJob)
}

// ConnectJobFactory builds connect jobs. It is a pure strategy: the same
// inputs produce an equivalent job.
type ConnectJobFactory interface {
	NewConnectJob(groupName string, req *Request, delegate ConnectJobDelegate) ConnectJob
}

// ConnectJobFactoryFunc adapts a function to ConnectJobFactory.
type ConnectJobFactoryFunc func(groupName string, req *Request, delegate ConnectJobDelegate) ConnectJob

// NewConnectJob calls f.
func (f ConnectJobFactoryFunc) NewConnectJob(groupName string, req *Request, delegate ConnectJobDelegate) ConnectJob {
	return f(groupName, req, delegate)
}

// ConnectJobBase holds the bookkeeping shared by ConnectJob implementations.
// Concrete jobs embed it and drive it with Begin, Succeed, Fail and
// NotifyDelegate. It is not safe for concurrent use; all calls happen on the
// loop goroutine.
type ConnectJobBase struct {
	groupName string
	requestID RequestID
	delegate  ConnectJobDelegate
	state     JobState
	loadState LoadState
	socket    Socket
}

// NewConnectJobBase initializes the shared job state for req.
func NewConnectJobBase(groupName string, req *Request, delegate ConnectJobDelegate) ConnectJobBase {
	return ConnectJobBase{
		groupName: groupName,
		requestID: req.ID(),
		delegate:  delegate,
		state:     JobNotStarted,
		loadState: LoadStateIdle,
	}
}

// GroupName returns the group the job connects for.
func (b *ConnectJobBase) GroupName() string { return b.groupName }

// RequestID identifies the request the job was created for.
func (b *ConnectJobBase) RequestID() RequestID { return b.requestID }

// State returns the job lifecycle state.
func (b *ConnectJobBase) State() JobState { return b.state }

// LoadState returns what the job is currently waiting on.
func (b *ConnectJobBase) LoadState() LoadState { return b.loadState }

// SetLoadState records a load-state transition.
func (b *ConnectJobBase) SetLoadState(s LoadState) {
	if b.loadState != s {
		log.WithField("group", b.groupName).
			WithField("request", uint64(b.requestID)).
			WithField("load_state", s.String()).
			Debug("connect job load state changed")
	}
	b.loadState = s
}

// Begin moves the job from NotStarted to Connecting.
func (b *ConnectJobBase) Begin() error {
	if b.state != JobNotStarted {
		return fmt.Errorf("connect job for %q already %s: %w", b.groupName, b.state, apperrors.ErrInvalidState)
	}
	b.state = JobConnecting
	b.SetLoadState(LoadStateConnecting)
	return nil
}

// Succeed stores the connected socket and marks the job succeeded.
func (b *ConnectJobBase) Succeed(s Socket) {
	b.state = JobSucceeded
	b.socket = s
	b.SetLoadState(LoadStateIdle)
}

// Fail marks the job failed.
func (b *ConnectJobBase) Fail() {
	b.state = JobFailed
	b.SetLoadState(LoadStateIdle)
}

// ReleaseSocket transfers ownership of the connected socket to the caller.
func (b *ConnectJobBase) ReleaseSocket() Socket {
	s := b.socket
	b.socket = nil
	return s
}

// NotifyDelegate reports the result to the delegate exactly once.
// It does nothing if the job was cancelled.
func (b *ConnectJobBase) NotifyDelegate(err error, job ConnectJob) {
	d := b.delegate
	b.delegate = nil
	if d != nil {
		d.OnConnectJobComplete(err, job)
	}
}

// Cancel detaches the delegate and destroys any socket the job still owns.
func (b *ConnectJobBase) Cancel() {
	b.delegate = nil
	if b.state == JobNotStarted || b.state == JobConnecting {
		b.state = JobFailed
	}
	b.SetLoadState(LoadStateIdle)
	if b.socket != nil {
		b.socket.Disconnect()
		b.socket = nil
	}
}
