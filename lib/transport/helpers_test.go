package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/sockpool/lib/loop"
	"github.com/go-i2p/sockpool/lib/pool"
)

// runUntil drives l until cond holds or the deadline passes.
func runUntil(t *testing.T, l *loop.Loop, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		l.RunUntilIdle()
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

// recordingDelegate records connect job completions.
type recordingDelegate struct {
	calls int
	err   error
	job   pool.ConnectJob
}

func (d *recordingDelegate) OnConnectJobComplete(err error, job pool.ConnectJob) {
	d.calls++
	d.err = err
	d.job = job
}

// progressLog collects load states reported by a dialer.
type progressLog struct {
	mu     sync.Mutex
	states []pool.LoadState
}

func (p *progressLog) report(s pool.LoadState) {
	p.mu.Lock()
	p.states = append(p.states, s)
	p.mu.Unlock()
}

func (p *progressLog) get() []pool.LoadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pool.LoadState(nil), p.states...)
}
