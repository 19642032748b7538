package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces per-client request rates and daily quotas using
// fixed windows. A zero limit disables that check.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int
	maxDataPerDay     int64 // bytes

	clients map[string]*ClientUsage
	now     func() time.Time
}

// ClientUsage is the usage of one client in its current windows.
type ClientUsage struct {
	RequestsThisMinute int
	RequestsThisHour   int
	RequestsToday      int
	BytesToday         int64

	minuteStart time.Time
	hourStart   time.Time
	dayStart    time.Time
}

// NewRateLimiter creates a rate limiter with the given limits.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*ClientUsage),
		now:               time.Now,
	}
}

// Enabled reports whether any limit is set.
func (rl *RateLimiter) Enabled() bool {
	return rl.requestsPerMinute > 0 || rl.requestsPerHour > 0 || rl.maxRequestsPerDay > 0 || rl.maxDataPerDay > 0
}

// CheckRateLimit records a request of dataSize bytes from clientID, or
// returns a *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) CheckRateLimit(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage := rl.usageFor(clientID, now)
	rl.rollWindows(usage, now)

	if rl.requestsPerMinute > 0 && usage.RequestsThisMinute >= rl.requestsPerMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.requestsPerMinute,
			RetryAfter: usage.minuteStart.Add(time.Minute).Sub(now),
		}
	}
	if rl.requestsPerHour > 0 && usage.RequestsThisHour >= rl.requestsPerHour {
		return &RateLimitError{
			Type:       "hour",
			Limit:      rl.requestsPerHour,
			RetryAfter: usage.hourStart.Add(time.Hour).Sub(now),
		}
	}
	if rl.maxRequestsPerDay > 0 && usage.RequestsToday >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  int64(rl.maxRequestsPerDay),
			Used:   int64(usage.RequestsToday),
			Resets: nextDay(now),
		}
	}
	if rl.maxDataPerDay > 0 && usage.BytesToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.maxDataPerDay,
			Used:   usage.BytesToday,
			Resets: nextDay(now),
		}
	}

	usage.RequestsThisMinute++
	usage.RequestsThisHour++
	usage.RequestsToday++
	usage.BytesToday += dataSize
	return nil
}

func (rl *RateLimiter) usageFor(clientID string, now time.Time) *ClientUsage {
	usage, ok := rl.clients[clientID]
	if !ok {
		usage = &ClientUsage{minuteStart: now, hourStart: now, dayStart: startOfDay(now)}
		rl.clients[clientID] = usage
	}
	return usage
}

func (rl *RateLimiter) rollWindows(usage *ClientUsage, now time.Time) {
	if now.Sub(usage.minuteStart) >= time.Minute {
		usage.RequestsThisMinute = 0
		usage.minuteStart = now
	}
	if now.Sub(usage.hourStart) >= time.Hour {
		usage.RequestsThisHour = 0
		usage.hourStart = now
	}
	if day := startOfDay(now); !day.Equal(usage.dayStart) {
		usage.RequestsToday = 0
		usage.BytesToday = 0
		usage.dayStart = day
	}
}

// GetUsage returns a copy of the usage recorded for clientID.
func (rl *RateLimiter) GetUsage(clientID string) ClientUsage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if usage, ok := rl.clients[clientID]; ok {
		return *usage
	}
	return ClientUsage{}
}

// Prune drops clients idle for a whole day.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	today := startOfDay(rl.now())
	removed := 0
	for id, usage := range rl.clients {
		if usage.dayStart.Before(today) {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func nextDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a daily quota violation.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
