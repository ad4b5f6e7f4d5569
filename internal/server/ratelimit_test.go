package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(perMinute, perHour, perDay int, data int64) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(perMinute, perHour, perDay, data)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl, _ := newTestLimiter(0, 0, 0, 0)

	require.NoError(t, rl.CheckRateLimit("user1", 100))

	usage := rl.GetUsage("user1")
	assert.Equal(t, 1, usage.RequestsToday())
	assert.Equal(t, int64(100), usage.DataToday())
	assert.Equal(t, 0, rl.GetUsage("nobody").RequestsToday())
}

func TestRateLimiter_PerMinute(t *testing.T) {
	rl, clock := newTestLimiter(2, 0, 0, 0)

	require.NoError(t, rl.CheckRateLimit("u", 0))
	require.NoError(t, rl.CheckRateLimit("u", 0))

	err := rl.CheckRateLimit("u", 0)
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "minute", rle.Type)
	assert.Equal(t, 2, rle.Limit)
	assert.Equal(t, time.Minute, rle.RetryAfter)

	clock.advance(time.Minute)
	assert.NoError(t, rl.CheckRateLimit("u", 0))
}

func TestRateLimiter_PerHour(t *testing.T) {
	rl, clock := newTestLimiter(0, 3, 0, 0)

	for range 3 {
		require.NoError(t, rl.CheckRateLimit("u", 0))
	}
	err := rl.CheckRateLimit("u", 0)
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "hour", rle.Type)

	clock.advance(time.Hour)
	assert.NoError(t, rl.CheckRateLimit("u", 0))
}

func TestRateLimiter_DailyQuotas(t *testing.T) {
	tests := []struct {
		name     string
		perDay   int
		data     int64
		size     int64
		allowed  int
		wantType string
	}{
		{"request quota", 2, 0, 0, 2, "requests"},
		{"data quota", 0, 250, 100, 2, "data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl, clock := newTestLimiter(0, 0, tt.perDay, tt.data)
			for range tt.allowed {
				require.NoError(t, rl.CheckRateLimit("u", tt.size))
			}
			err := rl.CheckRateLimit("u", tt.size)
			var qe *QuotaExceededError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, tt.wantType, qe.Type)
			assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), qe.Resets)

			clock.advance(12 * time.Hour)
			assert.NoError(t, rl.CheckRateLimit("u", tt.size), "quota resets on the next day")
		})
	}
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(1, 0, 0, 0)
	require.NoError(t, rl.CheckRateLimit("a", 0))
	require.NoError(t, rl.CheckRateLimit("b", 0))
	require.Error(t, rl.CheckRateLimit("a", 0))
}

func TestRateLimiter_PrunesIdleClients(t *testing.T) {
	rl, clock := newTestLimiter(0, 0, 0, 0)
	for i := range maxTrackedClients {
		rl.clients[fmt.Sprintf("c%d", i)] = &UserUsage{lastSeen: clock.t}
	}
	clock.advance(25 * time.Hour)

	require.NoError(t, rl.CheckRateLimit("fresh", 0))
	assert.Len(t, rl.clients, 1)
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	rl, clock := newTestLimiter(2, 0, 0, 0)

	require.NoError(t, rl.CheckRateLimit("u", 0))
	clock.advance(40 * time.Second)
	require.NoError(t, rl.CheckRateLimit("u", 0))

	err := rl.CheckRateLimit("u", 0)
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 20*time.Second, rle.RetryAfter, "the window opened with the first upload")

	// steady traffic does not keep the window open
	clock.advance(20 * time.Second)
	assert.NoError(t, rl.CheckRateLimit("u", 0))
}

func TestRateLimiter_RejectedUploadsAreNotCounted(t *testing.T) {
	rl, _ := newTestLimiter(0, 0, 0, 150)

	require.NoError(t, rl.CheckRateLimit("u", 100))
	require.Error(t, rl.CheckRateLimit("u", 100))
	require.NoError(t, rl.CheckRateLimit("u", 50))

	usage := rl.GetUsage("u")
	assert.Equal(t, 2, usage.RequestsToday())
	assert.Equal(t, int64(150), usage.DataToday())
}

func TestRateLimitErrors_Messages(t *testing.T) {
	err := error(&RateLimitError{Type: "minute", Limit: 5, RetryAfter: time.Second})
	assert.Contains(t, err.Error(), "minute")

	qe := &QuotaExceededError{Type: "data", Limit: 10, Used: 9, Resets: time.Unix(0, 0).UTC()}
	assert.Contains(t, qe.Error(), "used: 9 of 10")
}
