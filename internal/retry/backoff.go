package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/eci-platform/notifyd/internal/config"
)

// Backoff handles exponential backoff calculations with jitter.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64
}

// FromConfig builds a Backoff from the retry section of the service config.
func FromConfig(cfg config.RetryConfig) *Backoff {
	return &Backoff{
		BaseDelay: cfg.InitialBackoff,
		MaxDelay:  cfg.MaxBackoff,
		Factor:    cfg.BackoffMultiplier,
		Jitter:    cfg.JitterFactor,
	}
}

// NextDelay calculates the next delay based on the attempt count.
func (b *Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.BaseDelay) * math.Pow(b.Factor, float64(attempt))

	// Jitter is additive only, so the delay never undercuts the computed
	// backoff. The cap applies after jitter.
	if b.Jitter > 0 {
		delay += rand.Float64() * delay * b.Jitter
	}
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	// Enforce 100ms minimum floor
	if delay < float64(100*time.Millisecond) {
		delay = float64(100 * time.Millisecond)
	}

	return time.Duration(delay)
}
