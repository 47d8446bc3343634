// Package server throttles inbound frames per connection so one client cannot
// monopolize the router.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter admits up to capacity frames in a burst and refills the bucket
// completely once per interval.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	perSecond := float64(capacity) / interval.Seconds()
	if perSecond <= 0 {
		perSecond = float64(capacity)
	}

	return &rateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), capacity)}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.Allow()
}
