package server

import (
	"net"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"golang.org/x/time/rate"
)

const limiterCacheSize = 1000

// ipRateLimiter keeps one token bucket per client IP. Buckets live in an
// LRU so a flood of distinct addresses cannot grow memory without bound.
type ipRateLimiter struct {
	cache     gcache.Cache
	mu        sync.Mutex
	r         rate.Limit
	b         int
	allowList map[string]struct{}
}

func newIPRateLimiter(r rate.Limit, b int, allowList []string) *ipRateLimiter {
	allowed := make(map[string]struct{}, len(allowList))
	for _, ip := range allowList {
		allowed[ip] = struct{}{}
	}
	return &ipRateLimiter{
		cache:     gcache.New(limiterCacheSize).LRU().Build(),
		r:         r,
		b:         b,
		allowList: allowed,
	}
}

func (i *ipRateLimiter) getLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	if v, err := i.cache.Get(ip); err == nil {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(i.r, i.b)
	_ = i.cache.SetWithExpire(ip, limiter, 24*time.Hour)
	return limiter
}

// allow reports whether a connection from addr may be queued.
func (i *ipRateLimiter) allow(addr net.Addr) bool {
	ip := hostOf(addr)
	if _, ok := i.allowList[ip]; ok {
		return true
	}
	return i.getLimiter(ip).Allow()
}

func hostOf(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
