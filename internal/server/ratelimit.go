package server

import (
	"fmt"
	"sync"
	"time"
)

// maxTrackedClients triggers pruning of clients idle for a whole day.
const maxTrackedClients = 10000

// RateLimiter throttles uploads per client address. Minute and hour limits
// count requests in fixed windows opened by a client's first request; the
// daily request and byte quotas reset at local midnight. Zero disables a
// limit.
type RateLimiter struct {
	mu sync.Mutex

	perMinute int
	perHour   int
	perDay    int
	bytesDay  int64

	clients map[string]*UserUsage
	now     func() time.Time
}

// window counts events until resets.
type window struct {
	count  int64
	resets time.Time
}

func (w *window) roll(now time.Time, next func(time.Time) time.Time) {
	if !now.Before(w.resets) {
		w.count = 0
		w.resets = next(now)
	}
}

func after(d time.Duration) func(time.Time) time.Time {
	return func(t time.Time) time.Time { return t.Add(d) }
}

func nextMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

// UserUsage is what one client has consumed.
type UserUsage struct {
	minute   window
	hour     window
	requests window
	bytes    window
	lastSeen time.Time
}

// RequestsToday returns the requests accepted since midnight.
func (u *UserUsage) RequestsToday() int { return int(u.requests.count) }

// DataToday returns the upload bytes accepted since midnight.
func (u *UserUsage) DataToday() int64 { return u.bytes.count }

// NewRateLimiter creates a limiter for the invoice upload endpoints.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		perMinute: requestsPerMinute,
		perHour:   requestsPerHour,
		perDay:    maxRequestsPerDay,
		bytesDay:  maxDataPerDay,
		clients:   make(map[string]*UserUsage),
		now:       time.Now,
	}
}

// CheckRateLimit admits one upload of size bytes from client, or returns a
// *RateLimitError or *QuotaExceededError. Rejected uploads are not counted.
func (rl *RateLimiter) CheckRateLimit(client string, size int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.clients) >= maxTrackedClients {
		rl.pruneIdle(now)
	}
	u := rl.clients[client]
	if u == nil {
		u = &UserUsage{}
		rl.clients[client] = u
	}
	u.minute.roll(now, after(time.Minute))
	u.hour.roll(now, after(time.Hour))
	u.requests.roll(now, nextMidnight)
	u.bytes.roll(now, nextMidnight)

	switch {
	case exceeds(u.minute.count+1, int64(rl.perMinute)):
		return &RateLimitError{Type: "minute", Limit: rl.perMinute, RetryAfter: u.minute.resets.Sub(now)}
	case exceeds(u.hour.count+1, int64(rl.perHour)):
		return &RateLimitError{Type: "hour", Limit: rl.perHour, RetryAfter: u.hour.resets.Sub(now)}
	case exceeds(u.requests.count+1, int64(rl.perDay)):
		return &QuotaExceededError{
			Type: "requests", Limit: int64(rl.perDay), Used: u.requests.count, Resets: u.requests.resets,
		}
	case exceeds(u.bytes.count+size, rl.bytesDay):
		return &QuotaExceededError{Type: "data", Limit: rl.bytesDay, Used: u.bytes.count, Resets: u.bytes.resets}
	}

	u.minute.count++
	u.hour.count++
	u.requests.count++
	u.bytes.count += size
	u.lastSeen = now
	return nil
}

func exceeds(n, limit int64) bool { return limit > 0 && n > limit }

func (rl *RateLimiter) pruneIdle(now time.Time) {
	for id, u := range rl.clients {
		if now.Sub(u.lastSeen) >= 24*time.Hour {
			delete(rl.clients, id)
		}
	}
}

// GetUsage returns a snapshot of a client's usage; unknown clients report
// zero.
func (rl *RateLimiter) GetUsage(client string) *UserUsage {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if u, ok := rl.clients[client]; ok {
		snapshot := *u
		return &snapshot
	}
	return &UserUsage{}
}

// RateLimitError reports an exhausted minute or hour window.
type RateLimitError struct {
	Type       string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many uploads per %s (limit %d), retry in %v", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError reports an exhausted daily quota.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily %s quota used: %d of %d, resets %s",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
