// Package resilience stops connect attempts toward destinations and upstream
// proxies that keep failing.
//
// A Breaker counts consecutive connect failures for one group. Once the
// threshold is reached it opens and rejects attempts until OpenTimeout has
// passed, then lets a few trial attempts through:
//
//	Closed -> Open -> HalfOpen -> Closed
//	           ^         |
//	           +---------+ (trial failed)
package resilience

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of a breaker.
type CircuitState int

const (
	// CircuitClosed lets every attempt through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects attempts.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of trial attempts through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	// Default: 5
	FailureThreshold int
	// SuccessThreshold is the number of trial successes that close it again.
	// Default: 2
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays open before trials start.
	// Default: 30 seconds
	OpenTimeout time.Duration
	// MaxHalfOpenAttempts bounds concurrent trial attempts.
	// Default: 1
	MaxHalfOpenAttempts int
}

// DefaultBreakerConfig returns sensible defaults for connect attempts.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		MaxHalfOpenAttempts: 1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.MaxHalfOpenAttempts <= 0 {
		c.MaxHalfOpenAttempts = d.MaxHalfOpenAttempts
	}
	return c
}

type transition struct {
	from, to CircuitState
	changed  bool
}

// Breaker is a circuit breaker for one destination. It is safe for
// concurrent use.
type Breaker struct {
	mu     sync.Mutex
	config BreakerConfig
	name   string
	now    func() time.Time

	state            CircuitState
	failures         int
	successes        int
	halfOpenInFlight int

	lastFailure     time.Time
	lastStateChange time.Time
	openedAt        time.Time

	onStateChange func(name string, from, to CircuitState)
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	b := &Breaker{
		config: cfg.withDefaults(),
		name:   name,
		now:    time.Now,
		state:  CircuitClosed,
	}
	b.lastStateChange = b.now()
	return b
}

// OnStateChange registers fn to run after every transition. fn runs on the
// goroutine that caused the transition, with no lock held.
func (b *Breaker) OnStateChange(fn func(name string, from, to CircuitState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open breaker whose timeout has passed
// reports half-open.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.config.OpenTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

// Allow reserves an attempt. It returns an error wrapping ErrCircuitOpen when
// the attempt must not be made. Every allowed attempt must be followed by
// exactly one Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	ok, tr := b.allowLocked()
	b.mu.Unlock()
	b.notify(tr)

	if !ok {
		BreakerRejections.Inc()
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	return nil
}

func (b *Breaker) allowLocked() (bool, transition) {
	switch b.state {
	case CircuitClosed:
		return true, transition{}
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.config.OpenTimeout {
			return false, transition{}
		}
		tr := b.transitionTo(CircuitHalfOpen)
		b.halfOpenInFlight = 1
		return true, tr
	case CircuitHalfOpen:
		if b.halfOpenInFlight < b.config.MaxHalfOpenAttempts {
			b.halfOpenInFlight++
			return true, transition{}
		}
		return false, transition{}
	default:
		return false, transition{}
	}
}

// Record reports the outcome of an allowed attempt. Results that say nothing
// about the destination, such as cancellation, only release the reservation.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	if b.state == CircuitHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	var tr transition
	switch {
	case !counts(err):
	case err == nil:
		BreakerSuccesses.Inc()
		tr = b.successLocked()
	default:
		BreakerFailures.Inc()
		tr = b.failureLocked()
	}
	b.mu.Unlock()
	b.notify(tr)
}

func (b *Breaker) successLocked() transition {
	switch b.state {
	case CircuitClosed:
		b.failures = 0
	case CircuitHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			return b.transitionTo(CircuitClosed)
		}
	case CircuitOpen:
		log.WithField("breaker", b.name).Warn("success recorded while breaker open")
	}
	return transition{}
}

func (b *Breaker) failureLocked() transition {
	b.lastFailure = b.now()

	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			return b.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		return b.transitionTo(CircuitOpen)
	}
	return transition{}
}

// transitionTo changes state. Must be called with the lock held.
func (b *Breaker) transitionTo(to CircuitState) transition {
	from := b.state
	if from == to {
		return transition{}
	}
	b.state = to
	b.lastStateChange = b.now()

	switch to {
	case CircuitClosed:
		b.failures = 0
		b.successes = 0
	case CircuitOpen:
		b.openedAt = b.lastStateChange
		b.successes = 0
		b.halfOpenInFlight = 0
		BreakerTrips.Inc()
	case CircuitHalfOpen:
		b.successes = 0
		b.halfOpenInFlight = 0
	}

	log.WithField("breaker", b.name).
		WithField("from", from.String()).
		WithField("to", to.String()).
		Info("circuit breaker state transition")
	return transition{from: from, to: to, changed: true}
}

func (b *Breaker) notify(tr transition) {
	if !tr.changed {
		return
	}
	b.mu.Lock()
	fn := b.onStateChange
	b.mu.Unlock()
	if fn != nil {
		fn(b.name, tr.from, tr.to)
	}
}

// ForceOpen opens the breaker regardless of its counters.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	tr := b.transitionTo(CircuitOpen)
	b.mu.Unlock()
	b.notify(tr)
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	tr := b.transitionTo(CircuitClosed)
	b.failures = 0
	b.successes = 0
	b.halfOpenInFlight = 0
	b.openedAt = time.Time{}
	b.mu.Unlock()
	b.notify(tr)
}

// BreakerStats is a snapshot of a breaker.
type BreakerStats struct {
	Name            string
	State           CircuitState
	Failures        int
	Successes       int
	LastFailure     time.Time
	LastStateChange time.Time
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() BreakerStats {
	state := b.State()

	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Name:            b.name,
		State:           state,
		Failures:        b.failures,
		Successes:       b.successes,
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastStateChange,
	}
}
