package channel

import (
	"sync"
	"time"
)

// rateLimiter caps commands per user over a rolling minute window.
type rateLimiter struct {
	mu      sync.Mutex
	max     int
	windows map[int64]*rateWindow
	now     func() time.Time
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(max int) *rateLimiter {
	return &rateLimiter{
		max:     max,
		windows: make(map[int64]*rateWindow),
		now:     time.Now,
	}
}

// allow consumes one slot for the user, reporting false when the
// window is exhausted.
func (l *rateLimiter) allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[userID]
	if !ok || now.After(w.resetAt) {
		w = &rateWindow{resetAt: now.Add(time.Minute)}
		l.windows[userID] = w
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}
