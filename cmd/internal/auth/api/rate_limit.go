package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// pollLimiter is a per-account sliding-window limiter for validate polls.
// Idle accounts are swept at most once per window.
type pollLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	events    map[string][]time.Time
	lastSweep time.Time
}

func newPollLimiter(limit int, window time.Duration) *pollLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &pollLimiter{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
	}
}

// Allow reports whether an event for key at time "now" should be permitted.
// When it is not, the returned duration is when the oldest event leaves the window.
func (l *pollLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	if now.Sub(l.lastSweep) >= l.window {
		l.sweepLocked(cut)
		l.lastSweep = now
	}

	events := trimBefore(l.events[key], cut)
	if len(events) >= l.limit {
		l.events[key] = events
		return false, events[0].Sub(cut)
	}
	l.events[key] = append(events, now)
	return true, 0
}

func (l *pollLimiter) sweepLocked(cut time.Time) {
	for k, events := range l.events {
		if rest := trimBefore(events, cut); len(rest) == 0 {
			delete(l.events, k)
		} else {
			l.events[k] = rest
		}
	}
}

// trimBefore drops events at or before cut. events is ordered oldest first.
func trimBefore(events []time.Time, cut time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cut) {
		i++
	}
	return events[i:]
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many validation requests")
}
