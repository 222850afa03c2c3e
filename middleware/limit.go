package middleware

import (
	"fmt"
	"sync"
	"time"

	"anime-recs-api/logcolors"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultLimit  = 60
)

// Decision is the outcome of an admission check. FailOpen is set when the
// limiter hit an internal fault and admitted the request anyway.
type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
	FailOpen  bool
}

// SlidingWindowLimiter admits at most limit requests per client within a
// trailing window. Admission and recording are separate steps so a caller
// can choose not to count a request it already served.
type SlidingWindowLimiter struct {
	mu           sync.Mutex
	requests     map[string][]time.Time
	limits       map[string]int
	defaultLimit int
	window       time.Duration
	now          func() time.Time
}

// NewSlidingWindowLimiter creates a limiter. Non-positive arguments fall
// back to DefaultLimit and DefaultWindow.
func NewSlidingWindowLimiter(defaultLimit int, window time.Duration) *SlidingWindowLimiter {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	return &SlidingWindowLimiter{
		requests:     make(map[string][]time.Time),
		limits:       make(map[string]int),
		defaultLimit: defaultLimit,
		window:       window,
		now:          time.Now,
	}
}

// pruneLocked drops timestamps that fell out of the window. Caller holds l.mu.
func (l *SlidingWindowLimiter) pruneLocked(key string, now time.Time) []time.Time {
	times := l.requests[key]
	cut := 0
	for cut < len(times) && now.Sub(times[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		times = append(times[:0:0], times[cut:]...)
		if len(times) == 0 {
			delete(l.requests, key)
		} else {
			l.requests[key] = times
		}
	}
	return times
}

func (l *SlidingWindowLimiter) limitLocked(key string) int {
	if limit, ok := l.limits[key]; ok {
		return limit
	}
	return l.defaultLimit
}

// Admit reports whether key may make another request right now and how
// many requests remain in the current window.
func (l *SlidingWindowLimiter) Admit(key string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s Error checking rate limit for %s: %v", logcolors.LogRateLimit, key, r)
			d = Decision{Allowed: true, FailOpen: true}
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()

	times := l.pruneLocked(key, l.now())
	limit := l.limitLocked(key)
	count := len(times)

	if count >= limit {
		return Decision{Allowed: false, Remaining: 0, Limit: limit}
	}
	return Decision{Allowed: true, Remaining: limit - count, Limit: limit}
}

// Record appends the current time to key's window.
func (l *SlidingWindowLimiter) Record(key string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s Error recording request for %s: %v", logcolors.LogRateLimit, key, r)
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests[key] = append(l.requests[key], l.now())
}

// Reserve is Admit and Record in one step: when key is allowed, the
// request is counted before the lock is released, so concurrent callers
// cannot all pass on the same free slot. release takes the slot back.
func (l *SlidingWindowLimiter) Reserve(key string) (d Decision, release func()) {
	release = func() {}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s Error reserving rate limit slot for %s: %v", logcolors.LogRateLimit, key, r)
			d, release = Decision{Allowed: true, FailOpen: true}, func() {}
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	times := l.pruneLocked(key, now)
	limit := l.limitLocked(key)
	count := len(times)

	if count >= limit {
		return Decision{Allowed: false, Remaining: 0, Limit: limit}, release
	}
	l.requests[key] = append(times, now)

	var once sync.Once
	return Decision{Allowed: true, Remaining: limit - count, Limit: limit}, func() {
		once.Do(func() { l.unrecord(key, now) })
	}
}

// unrecord drops one request recorded at t from key's window.
func (l *SlidingWindowLimiter) unrecord(key string, t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	times := l.requests[key]
	for i := len(times) - 1; i >= 0; i-- {
		if times[i].Equal(t) {
			times = append(times[:i:i], times[i+1:]...)
			break
		}
	}
	if len(times) == 0 {
		delete(l.requests, key)
	} else {
		l.requests[key] = times
	}
}

// SetLimit overrides the limit for a single client.
func (l *SlidingWindowLimiter) SetLimit(key string, limit int) error {
	if limit < 0 {
		return fmt.Errorf("rate limit must be >= 0, got %d", limit)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[key] = limit
	log.Infof("%s Set limit for %s to %d", logcolors.LogRateLimit, key, limit)
	return nil
}

// ResetLimit restores the default limit for a client.
func (l *SlidingWindowLimiter) ResetLimit(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limits, key)
}

// Limit returns the effective limit for a client.
func (l *SlidingWindowLimiter) Limit(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limitLocked(key)
}

// DefaultLimit returns the limit applied to clients without an override.
func (l *SlidingWindowLimiter) DefaultLimit() int {
	return l.defaultLimit
}

// Window returns the sliding window length.
func (l *SlidingWindowLimiter) Window() time.Duration {
	return l.window
}

// RetryAfter returns how long until key's oldest request leaves the window.
func (l *SlidingWindowLimiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	times := l.pruneLocked(key, now)
	if len(times) == 0 {
		return 0
	}
	return l.window - now.Sub(times[0])
}

// Clients returns the number of clients with requests in their window.
func (l *SlidingWindowLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// Sweep prunes every client's window and forgets idle clients.
func (l *SlidingWindowLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	before := len(l.requests)
	for key := range l.requests {
		l.pruneLocked(key, now)
	}
	return before - len(l.requests)
}
