package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/loop"
	"github.com/go-i2p/sockpool/lib/pool"
)

func newTestJob(l *loop.Loop, d *recordingDelegate, dial DialFunc, timeout time.Duration) *DialJob {
	req := pool.NewRequest(1, 0, Destination{Address: "127.0.0.1:80"})
	return NewDialJob(l, "tcp://127.0.0.1:80", req, d, dial, Destination{Address: "127.0.0.1:80"}, timeout)
}

func TestDialJobSuccess(t *testing.T) {
	l := loop.New()
	d := &recordingDelegate{}
	client, server := net.Pipe()
	defer server.Close()

	job := newTestJob(l, d, func(ctx context.Context, dest Destination, progress ProgressFunc) (net.Conn, error) {
		progress(pool.LoadStateConnecting)
		return client, nil
	}, 0)

	var results []error
	job.onResult = func(err error) { results = append(results, err) }

	if err := job.Connect(); !pool.IsPending(err) {
		t.Fatalf("Connect should be pending, got %v", err)
	}
	if job.State() != pool.JobConnecting {
		t.Errorf("State = %s, want connecting", job.State())
	}

	runUntil(t, l, func() bool { return d.calls > 0 })

	if d.err != nil || d.job != job {
		t.Fatalf("unexpected completion err=%v job=%v", d.err, d.job)
	}
	if job.State() != pool.JobSucceeded {
		t.Errorf("State = %s, want succeeded", job.State())
	}
	s, ok := job.ReleaseSocket().(*ConnSocket)
	if !ok || s.Conn() != client {
		t.Error("released socket should wrap the dialed connection")
	}
	if len(results) != 1 || results[0] != nil {
		t.Errorf("onResult calls = %v", results)
	}
	if job.Connect() == nil {
		t.Error("a job can only be started once")
	}
}

func TestDialJobFailure(t *testing.T) {
	l := loop.New()
	d := &recordingDelegate{}

	job := newTestJob(l, d, func(ctx context.Context, dest Destination, progress ProgressFunc) (net.Conn, error) {
		return nil, errors.New("boom")
	}, 0)
	job.Connect()

	runUntil(t, l, func() bool { return d.calls > 0 })

	if !apperrors.IsConnection(d.err) {
		t.Errorf("unclassified error should become a connection error, got %v", d.err)
	}
	if job.State() != pool.JobFailed {
		t.Errorf("State = %s, want failed", job.State())
	}
	if job.ReleaseSocket() != nil {
		t.Error("failed job should have no socket")
	}
}

func TestDialJobTimeout(t *testing.T) {
	l := loop.New()
	d := &recordingDelegate{}

	job := newTestJob(l, d, func(ctx context.Context, dest Destination, progress ProgressFunc) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 20*time.Millisecond)
	job.Connect()

	runUntil(t, l, func() bool { return d.calls > 0 })

	if !apperrors.IsTimeout(d.err) {
		t.Errorf("expected timeout, got %v", d.err)
	}
}

func TestDialJobLoadState(t *testing.T) {
	l := loop.New()
	d := &recordingDelegate{}
	release := make(chan struct{})
	client, server := net.Pipe()
	defer server.Close()

	job := newTestJob(l, d, func(ctx context.Context, dest Destination, progress ProgressFunc) (net.Conn, error) {
		progress(pool.LoadStateResolvingHost)
		<-release
		return client, nil
	}, 0)
	job.Connect()

	runUntil(t, l, func() bool { return job.LoadState() == pool.LoadStateResolvingHost })

	close(release)
	runUntil(t, l, func() bool { return d.calls > 0 })
	if job.LoadState() != pool.LoadStateIdle {
		t.Errorf("finished job LoadState = %s", job.LoadState())
	}
	job.ReleaseSocket().Disconnect()
}

func TestDialJobCancel(t *testing.T) {
	l := loop.New()
	d := &recordingDelegate{}
	started := make(chan struct{})
	release := make(chan struct{})
	client, server := net.Pipe()
	defer server.Close()

	job := newTestJob(l, d, func(ctx context.Context, dest Destination, progress ProgressFunc) (net.Conn, error) {
		close(started)
		<-release
		// The dial finished anyway; the job must throw the connection away.
		return client, nil
	}, 0)

	var results []error
	job.onResult = func(err error) { results = append(results, err) }

	job.Connect()
	<-started
	job.Cancel()
	job.Cancel()

	if len(results) != 1 || !errors.Is(results[0], apperrors.ErrAborted) {
		t.Fatalf("onResult calls = %v, want one ErrAborted", results)
	}

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	close(release)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := server.Read(make([]byte, 1)); err == nil {
		t.Error("late connection should be closed")
	}
	stop()
	<-done

	if d.calls != 0 {
		t.Error("delegate must not be called after Cancel")
	}
	if job.State() != pool.JobFailed {
		t.Errorf("State = %s, want failed", job.State())
	}
}

func TestDialJobCancelledDialClosesItsOwnConn(t *testing.T) {
	l := loop.New()
	d := &recordingDelegate{}
	started := make(chan struct{})
	release := make(chan struct{})
	returned := make(chan struct{})
	client, server := net.Pipe()
	defer server.Close()

	job := newTestJob(l, d, func(ctx context.Context, dest Destination, progress ProgressFunc) (net.Conn, error) {
		close(started)
		<-release
		defer close(returned)
		return client, nil
	}, 0)

	job.Connect()
	<-started
	job.Cancel()
	l.RunUntilIdle()

	// Nothing drives the loop from here on, as after a pool shutdown.
	close(release)
	<-returned
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := server.Read(make([]byte, 1)); err == nil {
		t.Fatal("connection finished after cancel should be closed without the loop")
	}
	if n := l.Len(); n != 0 {
		t.Errorf("%d tasks posted after cancel, want 0", n)
	}
	if d.calls != 0 {
		t.Error("delegate must not be called after Cancel")
	}
}
