package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit configures a token bucket per host.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

func (r RateLimit) enabled() bool {
	return r.Requests > 0 && r.Window > 0
}

// DomainLimiter spaces out requests to the same host with a fixed delay and
// an optional token bucket.
type DomainLimiter struct {
	delay time.Duration
	rate  RateLimit

	mu       sync.Mutex
	next     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewDomainLimiter creates a limiter. A zero delay and disabled rate limit
// make Wait a no-op.
func NewDomainLimiter(delay time.Duration, rl RateLimit) *DomainLimiter {
	return &DomainLimiter{
		delay:    delay,
		rate:     rl,
		next:     make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host may be contacted again. The slot is reserved
// before sleeping so concurrent callers queue up behind each other.
func (d *DomainLimiter) Wait(ctx context.Context, host string) error {
	if d == nil || host == "" {
		return nil
	}
	if d.delay <= 0 && !d.rate.enabled() {
		return nil
	}
	host = strings.ToLower(host)

	var sleep time.Duration
	var limiter *rate.Limiter

	d.mu.Lock()
	if d.delay > 0 {
		now := time.Now()
		at := now
		if next, ok := d.next[host]; ok && next.After(now) {
			at = next
			sleep = next.Sub(now)
		}
		d.next[host] = at.Add(d.delay)
	}
	if d.rate.enabled() {
		limiter = d.limiterLocked(host)
	}
	d.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if limiter != nil {
		return limiter.Wait(ctx)
	}
	return nil
}

func (d *DomainLimiter) limiterLocked(host string) *rate.Limiter {
	if l, ok := d.limiters[host]; ok {
		return l
	}
	interval := d.rate.Window / time.Duration(d.rate.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	l := rate.NewLimiter(rate.Every(interval), d.rate.Requests)
	d.limiters[host] = l
	return l
}
