package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestLimiterAllow(t *testing.T) {
	l := newWithClock(10, 5, newClock().Now)

	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Errorf("request %d should be allowed", i)
		}
	}
	if l.Allow() {
		t.Error("6th request should be denied")
	}
}

func TestLimiterRefill(t *testing.T) {
	clock := newClock()
	l := newWithClock(100, 10, clock.Now)

	if !l.AllowN(10) {
		t.Fatal("full bucket should allow its burst")
	}
	if l.Allow() {
		t.Fatal("bucket should be empty")
	}

	clock.Advance(50 * time.Millisecond)
	if got := l.Tokens(); got < 4.99 || got > 5.01 {
		t.Errorf("Tokens = %f, want 5", got)
	}

	clock.Advance(time.Hour)
	if got := l.Tokens(); got != 10 {
		t.Errorf("Tokens = %f, want capacity 10", got)
	}
}

func TestLimiterDelay(t *testing.T) {
	clock := newClock()
	l := newWithClock(2, 1, clock.Now)

	if l.Delay() != 0 {
		t.Error("full bucket should have no delay")
	}
	l.Allow()
	if got := l.Delay(); got != 500*time.Millisecond {
		t.Errorf("Delay = %s, want 500ms", got)
	}
}

func TestLimiterMinimumBurst(t *testing.T) {
	l := newWithClock(1, 0, newClock().Now)
	if !l.Allow() {
		t.Error("burst below one should be raised to one")
	}
}

func TestLimiterConcurrent(t *testing.T) {
	l := New(0, 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if l.Allow() {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("allowed = %d, want exactly the burst of 100", allowed)
	}
}

func TestKeyedLimiterReserve(t *testing.T) {
	kl := NewKeyed(1, 2, time.Hour)
	defer kl.Close()
	clock := newClock()
	kl.now = clock.Now

	for i := 0; i < 2; i++ {
		if err := kl.Reserve("a:80"); err != nil {
			t.Fatalf("attempt %d rejected: %v", i, err)
		}
	}

	before := Rejections.Value()
	err := kl.Reserve("a:80")
	if !errors.Is(err, apperrors.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if Rejections.Value() != before+1 {
		t.Error("rejection should be counted")
	}

	if err := kl.Reserve("b:80"); err != nil {
		t.Errorf("keys should be independent: %v", err)
	}

	clock.Advance(time.Second)
	if err := kl.Reserve("a:80"); err != nil {
		t.Errorf("refilled bucket rejected: %v", err)
	}
}

func TestKeyedLimiterPrune(t *testing.T) {
	kl := NewKeyed(10, 1, time.Minute)
	defer kl.Close()
	clock := newClock()
	kl.now = clock.Now

	kl.Allow("busy")
	kl.Allow("quiet")
	if kl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", kl.Len())
	}

	clock.Advance(30 * time.Second)
	kl.Allow("busy")
	clock.Advance(30 * time.Second)
	kl.prune()

	if kl.Len() != 1 {
		t.Errorf("Len = %d after prune, want 1", kl.Len())
	}
	if _, ok := kl.limiters["busy"]; !ok {
		t.Error("recently used bucket should survive")
	}
}

func TestKeyedLimiterCloseTwice(t *testing.T) {
	kl := NewKeyed(1, 1, time.Minute)
	kl.Close()
	kl.Close()
}
