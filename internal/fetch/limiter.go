package fetch

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// adaptiveLimiter is a per-host token bucket that speeds up after successes
// (to 2x the base rate) and halves after a 429 (down to a quarter).
type adaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	base    rate.Limit
	current rate.Limit
}

func newAdaptiveLimiter(r rate.Limit, burst int) *adaptiveLimiter {
	return &adaptiveLimiter{limiter: rate.NewLimiter(r, burst), base: r, current: r}
}

func (a *adaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *adaptiveLimiter) onSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(a.current * 1.2)
}

func (a *adaptiveLimiter) onThrottle(host string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(a.current * 0.5)
	zap.L().Warn("fetch: host throttled us, slowing down",
		zap.String("host", host),
		zap.Float64("rate", float64(a.current)),
	)
}

func (a *adaptiveLimiter) set(r rate.Limit) {
	if r > a.base*2 {
		r = a.base * 2
	}
	if r < a.base/4 {
		r = a.base / 4
	}
	a.current = r
	a.limiter.SetLimit(r)
}

func (a *adaptiveLimiter) limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// hostLimiters hands out one adaptiveLimiter per host.
type hostLimiters struct {
	mu    sync.Mutex
	rate  rate.Limit
	burst int
	hosts map[string]*adaptiveLimiter
}

func newHostLimiters(perSecond float64, burst int) *hostLimiters {
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &hostLimiters{rate: rate.Limit(perSecond), burst: burst, hosts: make(map[string]*adaptiveLimiter)}
}

func (h *hostLimiters) forURL(rawURL string) (*adaptiveLimiter, string) {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.hosts[host]
	if !ok {
		lim = newAdaptiveLimiter(h.rate, h.burst)
		h.hosts[host] = lim
	}
	return lim, host
}
