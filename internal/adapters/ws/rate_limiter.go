package ws

import "time"

// frameLimiter is a sliding-window cap on inbound frames for one
// connection. Only the read pump touches it, so no locking.
type frameLimiter struct {
	limit   int
	window  time.Duration
	history []time.Time
}

func newFrameLimiter(limit int, window time.Duration) *frameLimiter {
	return &frameLimiter{limit: limit, window: window}
}

func (l *frameLimiter) Allow() bool {
	if l.limit <= 0 {
		return true
	}
	now := time.Now()
	windowStart := now.Add(-l.window)

	fresh := l.history[:0]
	for _, t := range l.history {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	l.history = fresh

	if len(l.history) >= l.limit {
		return false
	}
	l.history = append(l.history, now)
	return true
}
