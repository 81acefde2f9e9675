package middleware

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxAttemptsPerMinute is used when AUTH_RATE_LIMIT is unset. It is
	// also the burst a fresh key gets before refill matters.
	DefaultMaxAttemptsPerMinute = 10

	// DefaultMaxTrackedKeys caps the failure table. When full, the key seen
	// least recently is dropped.
	DefaultMaxTrackedKeys = 10000

	cleanupInterval = time.Minute
	staleThreshold  = 5 * time.Minute
)

type keyEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token bucket per opaque string key, created on the
// key's first failure. Bearer auth keys it on the bare remote IP. The admin login keys it
// on both "ip:<addr>" and "user:<lowercased username>", which throttles one
// account across addresses. Entries idle for five minutes are dropped by a
// background sweep.
type RateLimiter struct {
	mu             sync.Mutex
	entries        map[string]*keyEntry
	maxPerMinute   int
	maxTrackedKeys int
	now            func() time.Time
	cancel         context.CancelFunc
}

// NewRateLimiter starts the idle sweep, which runs until ctx is done or Stop
// is called. maxPerMinute <= 0 selects DefaultMaxAttemptsPerMinute.
func NewRateLimiter(ctx context.Context, maxPerMinute int) *RateLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = DefaultMaxAttemptsPerMinute
	}
	ctx, cancel := context.WithCancel(ctx)
	rl := &RateLimiter{
		entries:        make(map[string]*keyEntry),
		maxPerMinute:   maxPerMinute,
		maxTrackedKeys: DefaultMaxTrackedKeys,
		now:            time.Now,
		cancel:         cancel,
	}
	go rl.cleanup(ctx)
	return rl
}

// Allow spends a token for key. Keys with no recorded failures are allowed
// without creating an entry.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok {
		return true
	}
	now := rl.now()
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// RecordFailure drains a token for key, creating its bucket on first failure.
func (rl *RateLimiter) RecordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e := rl.getOrCreateEntryLocked(key, now)
	e.limiter.AllowN(now, 1)
}

// RecordFailureAndAllow is RecordFailure that also reports whether the
// bucket still had a token, letting bearer auth answer 401 or 429 in one step.
func (rl *RateLimiter) RecordFailureAndAllow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e := rl.getOrCreateEntryLocked(key, now)
	return e.limiter.AllowN(now, 1)
}

// Reset drops key's bucket. The admin portal calls it for the IP and the
// username after a successful login.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, key)
}

func (rl *RateLimiter) getOrCreateEntryLocked(key string, now time.Time) *keyEntry {
	e, ok := rl.entries[key]
	if !ok {
		if len(rl.entries) >= rl.maxTrackedKeys {
			rl.evictOldestLocked()
		}
		r := rate.Limit(float64(rl.maxPerMinute) / 60.0)
		e = &keyEntry{
			limiter:  rate.NewLimiter(r, rl.maxPerMinute),
			lastSeen: now,
		}
		rl.entries[key] = e
	}
	e.lastSeen = now
	return e
}

// Stop cancels the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.removeStale()
		}
	}
}

func (rl *RateLimiter) removeStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, e := range rl.entries {
		if now.Sub(e.lastSeen) > staleThreshold {
			delete(rl.entries, key)
		}
	}
}

func (rl *RateLimiter) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for key, e := range rl.entries {
		if first || e.lastSeen.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.lastSeen
			first = false
		}
	}
	if oldestKey != "" {
		delete(rl.entries, oldestKey)
	}
}

// ExtractIP returns the host part of an http.Request RemoteAddr, or the
// input unchanged when it carries no port.
func ExtractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
