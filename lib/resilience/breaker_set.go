package resilience

import (
	"sort"
	"sync"
	"time"
)

// BreakerSet holds one lazily created Breaker per key, usually a pool group.
type BreakerSet struct {
	mu       sync.Mutex
	config   BreakerConfig
	now      func() time.Time
	breakers map[string]*Breaker
}

// NewBreakerSet creates an empty set whose breakers share cfg.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{
		config:   cfg.withDefaults(),
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it if needed.
func (s *BreakerSet) Get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[key]
	if !ok {
		b = NewBreaker(key, s.config)
		b.now = s.now
		b.lastStateChange = b.now()
		b.OnStateChange(trackOpen)
		s.breakers[key] = b
	}
	return b
}

// Allow reserves an attempt against key.
func (s *BreakerSet) Allow(key string) error {
	return s.Get(key).Allow()
}

// Record reports the outcome of an attempt against key.
func (s *BreakerSet) Record(key string, err error) {
	s.Get(key).Record(err)
}

// Reset closes the breaker for key. It reports false when no breaker
// exists for key.
func (s *BreakerSet) Reset(key string) bool {
	s.mu.Lock()
	b, ok := s.breakers[key]
	s.mu.Unlock()
	if ok {
		b.Reset()
	}
	return ok
}

// Stats returns snapshots of every breaker, sorted by name.
func (s *BreakerSet) Stats() []BreakerStats {
	s.mu.Lock()
	breakers := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b)
	}
	s.mu.Unlock()

	stats := make([]BreakerStats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// trackOpen keeps the open-breaker gauge in step with transitions.
func trackOpen(name string, from, to CircuitState) {
	switch {
	case to == CircuitOpen:
		BreakersOpen.Inc()
	case from == CircuitOpen:
		BreakersOpen.Dec()
	}
}
