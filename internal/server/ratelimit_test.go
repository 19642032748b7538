package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced by tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(perMinute, perHour, perDay int, dataPerDay int64) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(perMinute, perHour, perDay, dataPerDay)
	rl.now = clock.now
	return rl, clock
}

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 100, 1000, 1024*1024)

	assert.Equal(t, 10, rl.requestsPerMinute)
	assert.Equal(t, 100, rl.requestsPerHour)
	assert.Equal(t, 1000, rl.maxRequestsPerDay)
	assert.Equal(t, int64(1024*1024), rl.maxDataPerDay)
	assert.NotNil(t, rl.clients)
	assert.True(t, rl.Enabled())
	assert.False(t, NewRateLimiter(0, 0, 0, 0).Enabled())
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0, 0)

	for range 100 {
		require.NoError(t, rl.CheckRateLimit("client", 100))
	}
	usage := rl.GetUsage("client")
	assert.Equal(t, 100, usage.RequestsToday)
	assert.Equal(t, int64(10000), usage.BytesToday)
}

func TestRateLimiter_RequestsPerMinute(t *testing.T) {
	rl, clock := newClockedLimiter(2, 0, 0, 0)

	require.NoError(t, rl.CheckRateLimit("client", 0))
	clock.advance(10 * time.Second)
	require.NoError(t, rl.CheckRateLimit("client", 0))
	clock.advance(10 * time.Second)

	err := rl.CheckRateLimit("client", 0)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "minute", rle.Type)
	assert.Equal(t, 2, rle.Limit)
	assert.Equal(t, 40*time.Second, rle.RetryAfter)

	// Other clients are independent.
	require.NoError(t, rl.CheckRateLimit("other", 0))

	clock.advance(40 * time.Second)
	require.NoError(t, rl.CheckRateLimit("client", 0))
}

func TestRateLimiter_SteadyTrafficStillLimited(t *testing.T) {
	rl, clock := newClockedLimiter(3, 0, 0, 0)

	allowed := 0
	for range 6 {
		if rl.CheckRateLimit("client", 0) == nil {
			allowed++
		}
		clock.advance(5 * time.Second)
	}
	assert.Equal(t, 3, allowed)
}

func TestRateLimiter_RequestsPerHour(t *testing.T) {
	rl, clock := newClockedLimiter(0, 2, 0, 0)

	require.NoError(t, rl.CheckRateLimit("client", 0))
	clock.advance(20 * time.Minute)
	require.NoError(t, rl.CheckRateLimit("client", 0))

	var rle *RateLimitError
	require.True(t, errors.As(rl.CheckRateLimit("client", 0), &rle))
	assert.Equal(t, "hour", rle.Type)
	assert.Equal(t, 40*time.Minute, rle.RetryAfter)

	clock.advance(40 * time.Minute)
	require.NoError(t, rl.CheckRateLimit("client", 0))
}

func TestRateLimiter_DailyQuotas(t *testing.T) {
	t.Run("requests", func(t *testing.T) {
		rl, clock := newClockedLimiter(0, 0, 2, 0)
		require.NoError(t, rl.CheckRateLimit("client", 0))
		require.NoError(t, rl.CheckRateLimit("client", 0))

		var qe *QuotaExceededError
		require.True(t, errors.As(rl.CheckRateLimit("client", 0), &qe))
		assert.Equal(t, "requests", qe.Type)
		assert.Equal(t, int64(2), qe.Used)
		assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), qe.Resets)

		clock.advance(12 * time.Hour)
		require.NoError(t, rl.CheckRateLimit("client", 0))
	})

	t.Run("data", func(t *testing.T) {
		rl, _ := newClockedLimiter(0, 0, 0, 1000)
		require.NoError(t, rl.CheckRateLimit("client", 600))

		var qe *QuotaExceededError
		require.True(t, errors.As(rl.CheckRateLimit("client", 500), &qe))
		assert.Equal(t, "data", qe.Type)
		assert.Equal(t, int64(600), qe.Used)
		assert.Equal(t, int64(1000), qe.Limit)

		require.NoError(t, rl.CheckRateLimit("client", 400))
	})
}

func TestRateLimiter_RejectedRequestsAreNotCounted(t *testing.T) {
	rl, _ := newClockedLimiter(1, 0, 0, 0)
	require.NoError(t, rl.CheckRateLimit("client", 10))
	require.Error(t, rl.CheckRateLimit("client", 10))
	require.Error(t, rl.CheckRateLimit("client", 10))

	usage := rl.GetUsage("client")
	assert.Equal(t, 1, usage.RequestsThisMinute)
	assert.Equal(t, int64(10), usage.BytesToday)
}

func TestRateLimiter_Prune(t *testing.T) {
	rl, clock := newClockedLimiter(0, 0, 10, 0)
	require.NoError(t, rl.CheckRateLimit("old", 0))
	clock.advance(24 * time.Hour)
	require.NoError(t, rl.CheckRateLimit("new", 0))

	assert.Equal(t, 1, rl.Prune())
	assert.Equal(t, ClientUsage{}, rl.GetUsage("old"))
	assert.Equal(t, 1, rl.GetUsage("new").RequestsToday)
}

func TestRateLimitErrors_Messages(t *testing.T) {
	rle := &RateLimitError{Type: "minute", Limit: 5, RetryAfter: 30 * time.Second}
	assert.Equal(t, "rate limit exceeded for minute (limit: 5, retry after: 30s)", rle.Error())

	qe := &QuotaExceededError{Type: "data", Limit: 100, Used: 90, Resets: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "quota exceeded for data (used: 90, limit: 100, resets: 2026-01-02T00:00:00Z)", qe.Error())
}
