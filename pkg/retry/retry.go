// Package retry computes exponential backoff for redialing a peer.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config holds backoff settings.
type Config struct {
	MaxAttempts int           // Maximum number of attempts (0 = infinite)
	InitialWait time.Duration // Initial wait time
	MaxWait     time.Duration // Maximum wait time
	Multiplier  float64       // Backoff multiplier
	Jitter      float64       // Jitter factor (0-1)
}

// DefaultConfig returns the backoff used when dialing the host.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 0,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Delay returns the wait before the attempt following the given one
// (attempts count from 1).
func (c Config) Delay(attempt int) time.Duration {
	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	wait := float64(c.InitialWait) * math.Pow(multiplier, float64(attempt-1))
	if c.MaxWait > 0 && wait > float64(c.MaxWait) {
		wait = float64(c.MaxWait)
	}
	if c.Jitter > 0 {
		wait += wait * c.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}

// Backoff tracks consecutive failures of one peer. It is not safe for
// concurrent use.
type Backoff struct {
	cfg     Config
	attempt int
}

// NewBackoff returns a Backoff with no failures recorded.
func NewBackoff(cfg Config) *Backoff {
	return &Backoff{cfg: cfg}
}

// Attempt returns the number of failures since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset clears the failure count after a successful connection.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Wait records a failure and sleeps for its delay. It returns false when
// ctx is done first or MaxAttempts failures have been recorded.
func (b *Backoff) Wait(ctx context.Context) bool {
	b.attempt++
	if b.cfg.MaxAttempts > 0 && b.attempt > b.cfg.MaxAttempts {
		return false
	}
	timer := time.NewTimer(b.cfg.Delay(b.attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
