package signal

import (
	"sync"
	"time"
)

// MessageRateLimiter caps inbound messages per connection with a sliding
// window. One instance lives per readPump, so contention is negligible.
type MessageRateLimiter struct {
	mu       sync.Mutex
	history  []time.Time
	limit    int
	interval time.Duration
}

func NewMessageRateLimiter(limit int, interval time.Duration) *MessageRateLimiter {
	return &MessageRateLimiter{limit: limit, interval: interval}
}

func (rl *MessageRateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	fresh := rl.history[:0]
	for _, t := range rl.history {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	rl.history = fresh

	if len(rl.history) >= rl.limit {
		return false
	}
	rl.history = append(rl.history, now)
	return true
}
