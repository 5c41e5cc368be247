// Package ratelimit bounds how fast new connections are opened toward a
// destination. Reused sockets never touch a limiter; only connect attempts
// spend tokens.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

// Limiter is a token bucket.
type Limiter struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	capacity float64
	tokens   float64
	lastTime time.Time
	now      func() time.Time
}

// New creates a full bucket that refills at rate tokens per second and holds
// at most burst tokens.
func New(rate float64, burst int) *Limiter {
	return newWithClock(rate, burst, time.Now)
}

func newWithClock(rate float64, burst int, now func() time.Time) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:     rate,
		capacity: float64(burst),
		tokens:   float64(burst),
		lastTime: now(),
		now:      now,
	}
}

// Allow consumes one token if one is available.
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN consumes n tokens if that many are available.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

// Delay returns how long until one token is available.
func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 {
		return 0
	}
	if l.rate <= 0 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
}

// Tokens returns the number of available tokens.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// refill adds tokens for the elapsed time. Must be called with lock held.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastTime).Seconds()
	if elapsed > 0 {
		l.tokens = math.Min(l.capacity, l.tokens+elapsed*l.rate)
	}
	l.lastTime = now
}

// full reports whether the bucket has refilled completely. Must be called
// with lock held.
func (l *Limiter) full() bool {
	l.refill()
	return l.tokens >= l.capacity
}

// KeyedLimiter keeps one Limiter per key, usually a pool group. Buckets that
// have sat full for longer than the idle TTL are dropped.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	rate     float64
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewKeyed creates a per-key limiter. A background goroutine prunes idle
// buckets every idleTTL until Close is called.
func NewKeyed(rate float64, burst int, idleTTL time.Duration) *KeyedLimiter {
	if idleTTL <= 0 {
		idleTTL = time.Minute
	}
	kl := &KeyedLimiter{
		limiters: make(map[string]*Limiter),
		rate:     rate,
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go kl.pruneLoop()
	return kl
}

// Close stops the prune goroutine. It is safe to call more than once.
func (kl *KeyedLimiter) Close() {
	kl.stopOnce.Do(func() { close(kl.stopCh) })
}

func (kl *KeyedLimiter) get(key string) *Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	l, ok := kl.limiters[key]
	if !ok {
		l = newWithClock(kl.rate, kl.burst, kl.now)
		kl.limiters[key] = l
	}
	return l
}

// Allow consumes one token from key's bucket.
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.get(key).Allow()
}

// Reserve consumes one token for a connect attempt toward key. It returns an
// error wrapping ErrRateLimited, naming the wait, when the bucket is empty.
func (kl *KeyedLimiter) Reserve(key string) error {
	l := kl.get(key)
	if l.Allow() {
		return nil
	}
	Rejections.Inc()
	delay := l.Delay().Round(time.Millisecond)
	log.WithField("key", key).WithField("retry_after", delay).Debug("connect attempt rate limited")
	return fmt.Errorf("%s: retry after %s: %w", key, delay, apperrors.ErrRateLimited)
}

// Len returns the number of tracked keys.
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

func (kl *KeyedLimiter) pruneLoop() {
	ticker := time.NewTicker(kl.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-kl.stopCh:
			return
		case <-ticker.C:
			kl.prune()
		}
	}
}

// prune drops buckets that are full and untouched for idleTTL.
func (kl *KeyedLimiter) prune() {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	now := kl.now()
	for key, l := range kl.limiters {
		l.mu.Lock()
		idle := now.Sub(l.lastTime) >= kl.idleTTL
		if idle && l.full() {
			delete(kl.limiters, key)
		}
		l.mu.Unlock()
	}
}
