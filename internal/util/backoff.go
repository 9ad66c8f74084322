package util

import (
	"math"
	"time"
)

// ExponentialBackoff computes baseDelay * 2^(attempt-1), capped at maxDelay,
// with optional symmetric jitter (jitterPercent of the computed delay).
func ExponentialBackoff(attempt int, baseDelay, maxDelay time.Duration, jitterPercent float64) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := float64(baseDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}

	if jitterPercent > 0 {
		// Time-based pseudo-random avoids seeding math/rand for a jitter
		// nobody needs to reproduce.
		pseudoRandom := float64(time.Now().UnixNano()%1000) / 1000.0
		jitter := backoff * jitterPercent * (pseudoRandom - 0.5) * 2
		backoff += jitter
	}
	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// LinearBackoff computes baseDelay * attempt with the same jitter treatment.
func LinearBackoff(attempt int, baseDelay time.Duration, jitterPercent float64) time.Duration {
	if attempt <= 0 {
		return 0
	}
	backoff := float64(baseDelay) * float64(attempt)
	if jitterPercent > 0 {
		pseudoRandom := float64(time.Now().UnixNano()%1000) / 1000.0
		jitter := backoff * jitterPercent * (pseudoRandom - 0.5) * 2
		backoff += jitter
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}
