package server

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// rateWindow is the fixed rate-limiting window.
const rateWindow = time.Minute

// RateLimiter implements a fixed-window per-source-address limiter.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu      deadlock.Mutex
	entries map[string]*rateEntry

	stop chan struct{}
}

type rateEntry struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per source
// address per window and starts the periodic sweep of expired entries.
func NewRateLimiter(limit int) *RateLimiter {
	rl := &RateLimiter{
		limit:   limit,
		window:  rateWindow,
		entries: map[string]*rateEntry{},
		stop:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow records one request from addr. It returns whether the request is
// within budget, the remaining budget, and the seconds until the window
// resets.
func (rl *RateLimiter) Allow(addr string) (allowed bool, remaining int, retryAfter int) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[addr]
	if !ok || now.Sub(entry.windowStart) >= rl.window {
		entry = &rateEntry{windowStart: now}
		rl.entries[addr] = entry
	}

	retryAfter = int(rl.window.Seconds() - now.Sub(entry.windowStart).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	if entry.count >= rl.limit {
		return false, 0, retryAfter
	}
	entry.count++
	return true, rl.limit - entry.count, retryAfter
}

// Stop ends the sweep loop.
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

// sweepLoop removes expired entries once per window.
func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for addr, entry := range rl.entries {
				if now.Sub(entry.windowStart) >= rl.window {
					delete(rl.entries, addr)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// sourceAddr extracts the client address: the first comma-separated value of
// X-Forwarded-For when present, else the peer address without its port.
func sourceAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
