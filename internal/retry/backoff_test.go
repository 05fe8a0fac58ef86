package retry

import (
	"testing"
	"time"

	"github.com/eci-platform/notifyd/internal/config"
)

func TestExponentialBackoff(t *testing.T) {
	b := &Backoff{
		BaseDelay: 1 * time.Second,
		MaxDelay:  1 * time.Minute,
		Factor:    2.0,
		Jitter:    0, // No jitter for predictable testing
	}

	// Expected delays without jitter: 1s, 2s, 4s, 8s, 16s
	expectedDelays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}

	for i, expected := range expectedDelays {
		delay := b.NextDelay(i)
		if delay != expected {
			t.Errorf("NextDelay(%d) = %v, want %v", i, delay, expected)
		}
	}
}

func TestBackoffNonDecreasing(t *testing.T) {
	b := &Backoff{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
		Factor:    2.0,
		Jitter:    0,
	}

	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		delay := b.NextDelay(i)
		if delay < prev {
			t.Errorf("delay decreased: NextDelay(%d) = %v < %v", i, delay, prev)
		}
		if delay > b.MaxDelay {
			t.Errorf("NextDelay(%d) = %v exceeds max %v", i, delay, b.MaxDelay)
		}
		prev = delay
	}
}

func TestBackoffCappedAtMax(t *testing.T) {
	b := &Backoff{
		BaseDelay: 1 * time.Second,
		MaxDelay:  10 * time.Second,
		Factor:    2.0,
		Jitter:    0,
	}

	// After attempt 3 (8s), attempt 4 would be 16s but capped at 10s
	if delay := b.NextDelay(4); delay != 10*time.Second {
		t.Errorf("expected delay capped at 10s, got %v", delay)
	}
	if delay := b.NextDelay(20); delay != 10*time.Second {
		t.Errorf("expected delay capped at 10s for high attempt, got %v", delay)
	}
}

func TestJitterApplied(t *testing.T) {
	b := &Backoff{
		BaseDelay: 1 * time.Second,
		MaxDelay:  1 * time.Minute,
		Factor:    2.0,
		Jitter:    0.2, // 20% jitter
	}

	// Run multiple times to verify jitter creates variation
	delays := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		delays[b.NextDelay(0)] = true
	}

	if len(delays) < 2 {
		t.Error("expected jitter to produce varying delays, but got uniform delays")
	}

	// Jitter is additive: delays fall in [1s, 1.2s] and never undercut the
	// computed backoff.
	for delay := range delays {
		if delay < 1*time.Second || delay > 1200*time.Millisecond {
			t.Errorf("delay %v outside expected jitter range (1s-1200ms)", delay)
		}
	}
}

func TestJitterNeverExceedsMax(t *testing.T) {
	b := &Backoff{
		BaseDelay: 1 * time.Second,
		MaxDelay:  8 * time.Second,
		Factor:    2.0,
		Jitter:    0.2,
	}

	// Attempt 3 computes exactly 8s; jitter alone must not push past the cap.
	for i := 0; i < 100; i++ {
		if delay := b.NextDelay(3); delay > b.MaxDelay {
			t.Fatalf("NextDelay(3) = %v exceeds max %v after jitter", delay, b.MaxDelay)
		}
		if delay := b.NextDelay(10); delay > b.MaxDelay {
			t.Fatalf("NextDelay(10) = %v exceeds max %v after jitter", delay, b.MaxDelay)
		}
	}
}

func TestMinimumDelay(t *testing.T) {
	b := &Backoff{
		BaseDelay: 10 * time.Millisecond, // Very small
		MaxDelay:  1 * time.Minute,
		Factor:    2.0,
		Jitter:    0.5, // Large jitter could make it negative
	}

	for i := 0; i < 100; i++ {
		if delay := b.NextDelay(0); delay < 100*time.Millisecond {
			t.Errorf("delay %v below minimum 100ms", delay)
		}
	}
}

func TestFromConfig(t *testing.T) {
	b := FromConfig(config.RetryConfig{
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        1 * time.Minute,
		BackoffMultiplier: 3.0,
		JitterFactor:      0.1,
	})

	if b.BaseDelay != 2*time.Second || b.MaxDelay != 1*time.Minute || b.Factor != 3.0 || b.Jitter != 0.1 {
		t.Errorf("FromConfig mismatch: %+v", b)
	}
}

func BenchmarkNextDelay(b *testing.B) {
	backoff := &Backoff{BaseDelay: time.Second, MaxDelay: 5 * time.Minute, Factor: 2.0, Jitter: 0.2}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backoff.NextDelay(i % 5)
	}
}
