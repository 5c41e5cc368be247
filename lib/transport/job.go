package transport

import (
	"context"
	"net"
	"sync"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/loop"
	"github.com/go-i2p/sockpool/lib/metrics"
	"github.com/go-i2p/sockpool/lib/pool"
)

// DialJob is a pool.ConnectJob that runs a DialFunc on its own goroutine and
// reports back on the pool's loop.
//
// Connect always returns pool.ErrIOPending. Progress and the final result are
// posted to the loop, so all state changes happen on the loop goroutine. A
// connection that arrives after Cancel is closed and dropped.
type DialJob struct {
	pool.ConnectJobBase

	loop    *loop.Loop
	dial    DialFunc
	dest    Destination
	timeout time.Duration

	cancel   context.CancelFunc
	finished bool
	timer    *metrics.Timer

	// handoff orders the dial goroutine's post against Cancel. Once
	// abandoned is set the goroutine closes its connection itself.
	handoff   sync.Mutex
	abandoned bool

	// onResult runs once on the loop with the outcome, including cancellation.
	onResult func(err error)
}

// NewDialJob creates a job that dials dest for the request. timeout bounds
// the whole attempt; zero means no limit.
func NewDialJob(l *loop.Loop, groupName string, req *pool.Request, delegate pool.ConnectJobDelegate,
	dial DialFunc, dest Destination, timeout time.Duration) *DialJob {
	return &DialJob{
		ConnectJobBase: pool.NewConnectJobBase(groupName, req, delegate),
		loop:           l,
		dial:           dial,
		dest:           dest,
		timeout:        timeout,
	}
}

// Destination returns the destination being dialed.
func (j *DialJob) Destination() Destination {
	return j.dest
}

// Connect starts the dial.
func (j *DialJob) Connect() error {
	if err := j.Begin(); err != nil {
		return err
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if j.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), j.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	j.cancel = cancel
	j.timer = metrics.NewTimer(DialDuration)
	DialsTotal.Inc()

	log.WithField("group", j.GroupName()).
		WithField("destination", j.dest.String()).
		WithField("timeout", j.timeout).
		Debug("dialing")

	go j.run(ctx)
	return pool.ErrIOPending
}

func (j *DialJob) run(ctx context.Context) {
	progress := func(s pool.LoadState) {
		j.loop.Post(func() {
			if !j.finished {
				j.SetLoadState(s)
			}
		})
	}

	conn, err := j.dial(ctx, j.dest, progress)
	if err != nil {
		err = apperrors.ClassifyNetError(err)
	}

	j.handoff.Lock()
	defer j.handoff.Unlock()
	if j.abandoned {
		if conn != nil {
			conn.Close()
		}
		return
	}
	j.loop.Post(func() { j.complete(conn, err) })
}

// complete runs on the loop with the dial result.
func (j *DialJob) complete(conn net.Conn, err error) {
	if j.finished {
		if conn != nil {
			conn.Close()
		}
		return
	}
	j.finished = true
	j.cancel()
	elapsed := j.timer.ObserveDuration()

	if err == nil && conn == nil {
		err = apperrors.ErrInternal
	}
	if err != nil {
		DialFailures.Inc()
		log.WithField("group", j.GroupName()).
			WithField("destination", j.dest.String()).
			WithField("elapsed", elapsed).
			WithError(err).
			Debug("dial failed")
		j.Fail()
		j.report(err)
		j.NotifyDelegate(err, j)
		return
	}

	log.WithField("group", j.GroupName()).
		WithField("remote", addrString(conn.RemoteAddr())).
		WithField("elapsed", elapsed).
		Debug("dial succeeded")
	j.Succeed(NewConnSocket(conn))
	j.report(nil)
	j.NotifyDelegate(nil, j)
}

// Cancel aborts the dial. The delegate is never called afterwards.
func (j *DialJob) Cancel() {
	if !j.finished {
		j.finished = true
		j.handoff.Lock()
		j.abandoned = true
		j.handoff.Unlock()
		if j.cancel != nil {
			j.cancel()
		}
		j.report(apperrors.ErrAborted)
	}
	j.ConnectJobBase.Cancel()
}

func (j *DialJob) report(err error) {
	if j.onResult != nil {
		fn := j.onResult
		j.onResult = nil
		fn(err)
	}
}
