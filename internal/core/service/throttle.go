package service

import (
	"context"
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// maxThrottledHosts bounds the limiter table; it is reset when exceeded.
const maxThrottledHosts = 10000

// LoginThrottle paces failed password attempts per remote host.
type LoginThrottle struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewLoginThrottle allows burst failed attempts per host, refilled at
// perSecond.
func NewLoginThrottle(perSecond float64, burst int) *LoginThrottle {
	if burst < 1 {
		burst = 1
	}
	return &LoginThrottle{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Wait blocks until another failed attempt from remote is allowed.
func (t *LoginThrottle) Wait(ctx context.Context, remote string) error {
	return t.limiter(hostOf(remote)).Wait(ctx)
}

// Forget drops the limiter of remote's host.
func (t *LoginThrottle) Forget(remote string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.limiters, hostOf(remote))
}

// Len returns the number of tracked hosts.
func (t *LoginThrottle) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.limiters)
}

func (t *LoginThrottle) limiter(host string) *rate.Limiter {
	t.mu.RLock()
	l, ok := t.limiters[host]
	t.mu.RUnlock()
	if ok {
		return l
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := t.limiters[host]; ok {
		return l
	}
	if len(t.limiters) >= maxThrottledHosts {
		t.limiters = make(map[string]*rate.Limiter)
	}
	l = rate.NewLimiter(t.limit, t.burst)
	t.limiters[host] = l
	return l
}

func hostOf(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
