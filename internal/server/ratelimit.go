package server

import (
	"net"
	"sync"
	"time"
)

// hostIdleTTL is how long a remote host's bucket is kept after its last accept.
const hostIdleTTL = 5 * time.Minute

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// AcceptLimiter throttles how often one remote host may open connections,
// using a token bucket per host with a burst of twice the per-second rate.
type AcceptLimiter struct {
	mu        sync.Mutex
	hosts     map[string]*bucket
	perSecond float64
	burst     float64
	now       func() time.Time
}

// NewAcceptLimiter allows perSecond accepted connections per remote host.
func NewAcceptLimiter(perSecond float64) *AcceptLimiter {
	return &AcceptLimiter{
		hosts:     make(map[string]*bucket),
		perSecond: perSecond,
		burst:     perSecond * 2,
		now:       time.Now,
	}
}

// Allow consumes one token for the host of addr and reports whether the
// connection may proceed.
func (l *AcceptLimiter) Allow(addr net.Addr) bool {
	host := hostOf(addr)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.hosts[host]
	if !ok {
		l.hosts[host] = &bucket{tokens: l.burst - 1, lastCheck: now}
		return true
	}

	b.tokens = min(b.tokens+now.Sub(b.lastCheck).Seconds()*l.perSecond, l.burst)
	b.lastCheck = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// CleanupLoop forgets idle hosts every interval until done is closed.
func (l *AcceptLimiter) CleanupLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-done:
			return
		}
	}
}

func (l *AcceptLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-hostIdleTTL)
	for host, b := range l.hosts {
		if b.lastCheck.Before(cutoff) {
			delete(l.hosts, host)
		}
	}
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
