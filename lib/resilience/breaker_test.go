package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

var errDial = fmt.Errorf("dial: %w", apperrors.ErrConnectionRefused)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *testClock) {
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("test", cfg)
	b.now = clock.Now
	return b, clock
}

func testConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		OpenTimeout:         time.Second,
		MaxHalfOpenAttempts: 1,
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker("defaults", BreakerConfig{})
	if b.config != DefaultBreakerConfig() {
		t.Errorf("zero config should take defaults, got %+v", b.config)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected initial state closed, got %s", b.State())
	}
	if b.Name() != "defaults" {
		t.Errorf("Name = %q", b.Name())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("attempt %d rejected: %v", i, err)
		}
		b.Record(errDial)
	}
	if b.State() != CircuitClosed {
		t.Fatalf("breaker should still be closed, got %s", b.State())
	}

	b.Allow()
	b.Record(errDial)
	if b.State() != CircuitOpen {
		t.Fatalf("breaker should be open, got %s", b.State())
	}

	err := b.Allow()
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if !apperrors.IsUnavailable(err) {
		t.Error("a rejection should read as unavailable")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	for i := 0; i < 5; i++ {
		b.Allow()
		b.Record(errDial)
		b.Allow()
		b.Record(errDial)
		b.Allow()
		b.Record(nil)
	}
	if b.State() != CircuitClosed {
		t.Errorf("non-consecutive failures should not open the breaker, got %s", b.State())
	}
}

func TestBreakerIgnoresAbortsAndCallerErrors(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	ignored := []error{
		context.Canceled,
		apperrors.ErrAborted,
		fmt.Errorf("bad target: %w", apperrors.ErrInvalidInput),
		apperrors.ErrRateLimited,
	}
	for i := 0; i < 3; i++ {
		for _, err := range ignored {
			b.Allow()
			b.Record(err)
		}
	}
	if b.State() != CircuitClosed {
		t.Errorf("ignored errors opened the breaker")
	}
	if b.Stats().Failures != 0 {
		t.Errorf("Failures = %d, want 0", b.Stats().Failures)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(testConfig())
	b.ForceOpen()

	clock.Advance(500 * time.Millisecond)
	if b.Allow() == nil {
		t.Fatal("breaker should reject before the timeout")
	}

	clock.Advance(500 * time.Millisecond)
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("trial attempt rejected: %v", err)
	}
	if b.Allow() == nil {
		t.Error("only one concurrent trial should be allowed")
	}

	b.Record(nil)
	if b.State() != CircuitHalfOpen {
		t.Fatalf("one success should not close the breaker, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("second trial rejected: %v", err)
	}
	b.Record(nil)

	if b.State() != CircuitClosed {
		t.Errorf("expected closed after recovery, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(testConfig())
	b.ForceOpen()
	clock.Advance(time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("trial attempt rejected: %v", err)
	}
	b.Record(errDial)

	if b.State() != CircuitOpen {
		t.Errorf("failed trial should reopen, got %s", b.State())
	}
	if b.Allow() == nil {
		t.Error("reopened breaker should reject")
	}
}

func TestBreakerAbortedTrialReleasesSlot(t *testing.T) {
	b, clock := newTestBreaker(testConfig())
	b.ForceOpen()
	clock.Advance(time.Second)

	b.Allow()
	b.Record(context.Canceled)

	if err := b.Allow(); err != nil {
		t.Errorf("aborted trial should free its slot: %v", err)
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	b, clock := newTestBreaker(testConfig())

	var got []string
	b.OnStateChange(func(name string, from, to CircuitState) {
		got = append(got, from.String()+">"+to.String())
	})

	b.ForceOpen()
	clock.Advance(time.Second)
	b.Allow()
	b.Record(nil)
	b.Allow()
	b.Record(nil)

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(testConfig())
	b.ForceOpen()
	b.Reset()

	if b.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("reset breaker rejected: %v", err)
	}
}

func TestBreakerConcurrentUse(t *testing.T) {
	b := NewBreaker("concurrent", BreakerConfig{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if b.Allow() == nil {
					if j%2 == 0 {
						b.Record(nil)
					} else {
						b.Record(errDial)
					}
				}
				_ = b.Stats()
			}
		}(i)
	}
	wg.Wait()
}

func TestCircuitStateString(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestBreakerSet(t *testing.T) {
	s := NewBreakerSet(BreakerConfig{FailureThreshold: 1})

	if s.Get("a:80") != s.Get("a:80") {
		t.Fatal("Get should return the same breaker for a key")
	}

	openBefore := BreakersOpen.Value()
	s.Allow("a:80")
	s.Record("a:80", errDial)

	if err := s.Allow("a:80"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected a:80 rejected, got %v", err)
	}
	if err := s.Allow("b:80"); err != nil {
		t.Errorf("b:80 should be independent: %v", err)
	}
	if got := BreakersOpen.Value(); got != openBefore+1 {
		t.Errorf("BreakersOpen = %d, want %d", got, openBefore+1)
	}

	stats := s.Stats()
	if len(stats) != 2 || stats[0].Name != "a:80" || stats[0].State != CircuitOpen {
		t.Errorf("unexpected stats %+v", stats)
	}

	if !s.Reset("a:80") {
		t.Error("Reset(a:80) reported no breaker")
	}
	if s.Reset("missing") {
		t.Error("Reset(missing) reported a breaker")
	}
	if err := s.Allow("a:80"); err != nil {
		t.Errorf("reset breaker rejected: %v", err)
	}
	if got := BreakersOpen.Value(); got != openBefore {
		t.Errorf("BreakersOpen = %d after reset, want %d", got, openBefore)
	}
}
