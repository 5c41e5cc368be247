package loop

import (
	"time"
)

// RepeatingTimer posts fn onto a Loop at a fixed interval while running.
//
// Start, Stop and IsRunning must be called on the loop goroutine. A tick that
// was already queued when Stop ran is discarded, so fn never runs after Stop.
type RepeatingTimer struct {
	loop     *Loop
	interval time.Duration
	fn       func()

	running bool
	gen     uint64
	stop    chan struct{}
}

// NewRepeatingTimer creates a stopped timer.
func NewRepeatingTimer(l *Loop, interval time.Duration, fn func()) *RepeatingTimer {
	return &RepeatingTimer{
		loop:     l,
		interval: interval,
		fn:       fn,
	}
}

// Start arms the timer. Starting a running timer is a no-op.
func (t *RepeatingTimer) Start() {
	if t.running {
		return
	}
	t.running = true
	t.gen++
	t.stop = make(chan struct{})

	log.WithField("interval", t.interval).Debug("repeating timer started")
	go t.tick(t.gen, t.stop)
}

// Stop disarms the timer. Stopping a stopped timer is a no-op.
func (t *RepeatingTimer) Stop() {
	if !t.running {
		return
	}
	t.running = false
	close(t.stop)
	log.Debug("repeating timer stopped")
}

// IsRunning reports whether the timer is armed.
func (t *RepeatingTimer) IsRunning() bool {
	return t.running
}

// Interval returns the tick interval.
func (t *RepeatingTimer) Interval() time.Duration {
	return t.interval
}

func (t *RepeatingTimer) tick(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.loop.Post(func() {
				if t.running && t.gen == gen {
					t.fn()
				}
			})
		}
	}
}
