// Package ratelimit throttles connection attempts per source IP so a single
// misbehaving host cannot monopolize the accept loop.
package ratelimit

import (
	"sync"
	"time"
)

// IPLimiter caps connection attempts per IP within fixed windows. Each IP
// holds one counter and a window start; state for an IP is dropped once its
// window passes, so the table only ever covers IPs seen within the last
// interval, no matter how many hosts connect over the server's lifetime.
type IPLimiter struct {
	mu        sync.Mutex
	counters  map[string]*window
	max       int
	interval  time.Duration
	lastSweep time.Time
}

type window struct {
	start time.Time
	count int
}

// NewIPLimiter allows up to max connection attempts per IP per interval.
func NewIPLimiter(max int, interval time.Duration) *IPLimiter {
	return &IPLimiter{
		counters:  make(map[string]*window),
		max:       max,
		interval:  interval,
		lastSweep: time.Now(),
	}
}

// Allow reports whether ip may connect. An attempt over the limit is denied
// without extending the window; the host gets in again as soon as a fresh
// window opens.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweep(now)

	w := l.counters[ip]
	if w == nil || now.Sub(w.start) >= l.interval {
		l.counters[ip] = &window{start: now, count: 1}
		return true
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// Tracked returns the number of IPs currently holding limiter state.
func (l *IPLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

// sweep drops IPs whose window has passed. Runs at most once per interval;
// callers hold the lock.
func (l *IPLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.interval {
		return
	}
	l.lastSweep = now
	for ip, w := range l.counters {
		if now.Sub(w.start) >= l.interval {
			delete(l.counters, ip)
		}
	}
}
