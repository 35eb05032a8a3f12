package scraper

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/metrics"
)

// GuardConfig configures Guard.
type GuardConfig struct {
	// RatePerSecond caps calls per second across all workers; <= 0 disables pacing.
	RatePerSecond float64
	Burst         int
	// Timeout bounds every call; <= 0 leaves the caller's deadline alone.
	Timeout time.Duration
}

// Guard wraps a Scraper with client-side pacing, a per-call timeout and
// latency metrics.
type Guard struct {
	next    Scraper
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGuard builds a Guard around next.
func NewGuard(next Scraper, cfg GuardConfig) *Guard {
	g := &Guard{next: next, timeout: cfg.Timeout}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return g
}

// Scrape implements Scraper.
func (g *Guard) Scrape(ctx context.Context, url string, profile Profile) (Envelope, error) {
	if g.limiter != nil {
		start := time.Now()
		if err := g.limiter.Wait(ctx); err != nil {
			return Envelope{}, fmt.Errorf("rate limit wait: %w", err)
		}
		if waited := time.Since(start); waited > time.Millisecond {
			metrics.ObserveRateLimitDelay(waited)
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	env, err := g.next.Scrape(ctx, url, profile)
	metrics.ObserveScrape(string(profile), time.Since(start))
	return env, err
}
