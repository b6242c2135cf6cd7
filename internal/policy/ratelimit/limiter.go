// Package ratelimit spaces requests per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/site-harvester/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the steady request rate per host; zero or less disables limiting.
	RPS   float64
	Burst int
	// HostRPS overrides RPS for specific hostnames.
	HostRPS map[string]float64
	// MinRPS is the floor Throttle never goes below.
	MinRPS float64
}

// Limiter manages one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      Config
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MinRPS <= 0 {
		cfg.MinRPS = 0.1
	}
	hosts := make(map[string]float64, len(cfg.HostRPS))
	for host, rps := range cfg.HostRPS {
		hosts[strings.ToLower(host)] = rps
	}
	cfg.HostRPS = hosts
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
	}
}

// Wait blocks until a token is available for the URL's host.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not delays.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Throttle halves the host's rate after the server pushed back (HTTP 429),
// never dropping below MinRPS.
func (l *Limiter) Throttle(rawURL string) {
	limiter := l.limiterFor(hostOf(rawURL))
	current := limiter.Limit()
	if current == rate.Inf {
		return
	}
	next := current / 2
	if next < rate.Limit(l.cfg.MinRPS) {
		next = rate.Limit(l.cfg.MinRPS)
	}
	limiter.SetLimit(next)
}

// Limit reports the current rate for the URL's host.
func (l *Limiter) Limit(rawURL string) rate.Limit {
	return l.limiterFor(hostOf(rawURL)).Limit()
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[host]; ok {
		return limiter
	}
	rps := l.cfg.RPS
	if override, ok := l.cfg.HostRPS[host]; ok {
		rps = override
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, l.cfg.Burst)
	l.limiters[host] = limiter
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
