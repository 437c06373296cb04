package telegrampoller

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Default retry configuration for exponential backoff.
const (
	defaultRetryInitialDelay  = 1 * time.Second
	defaultRetryMaxDelay      = 60 * time.Second
	defaultRetryBackoffFactor = 2.0

	maxJitterFraction = 0.25
)

// Backoff tracks the retry delay of consecutive fetch failures.
// It is owned by a single fetcher and is not safe for concurrent use.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	jitter  bool

	attempt int
}

// NewBackoff returns a Backoff starting at initial, multiplied by factor on
// every failure and capped at max. Non-positive durations and a factor not
// above 1 fall back to defaults.
func NewBackoff(initial, max time.Duration, factor float64, jitter bool) *Backoff {
	if initial <= 0 {
		initial = defaultRetryInitialDelay
	}
	if max <= 0 {
		max = defaultRetryMaxDelay
	}
	if max < initial {
		max = initial
	}
	if factor <= 1.0 {
		factor = defaultRetryBackoffFactor
	}
	return &Backoff{
		initial: initial,
		max:     max,
		factor:  factor,
		jitter:  jitter,
	}
}

// Next records a failure and returns how long to wait before retrying.
// Formula: min(max, initial * factor^(attempt-1)) + jitter, never above max.
// Delays strictly increase until they reach max.
func (b *Backoff) Next() time.Duration {
	b.attempt++

	baseDelay := float64(b.initial) * math.Pow(b.factor, float64(b.attempt-1))
	if baseDelay > float64(b.max) {
		baseDelay = float64(b.max)
	}

	// Cryptographic jitter (0-25% of base delay) to avoid thundering herd.
	// Capped at (factor-1) of the base so a jittered delay stays under the next base.
	if b.jitter {
		jitterRange := int64(baseDelay * min(maxJitterFraction, b.factor-1))
		if jitterRange > 0 {
			if jitterBig, err := rand.Int(rand.Reader, big.NewInt(jitterRange)); err == nil {
				baseDelay += float64(jitterBig.Int64())
			}
		}
		if baseDelay > float64(b.max) {
			baseDelay = float64(b.max)
		}
	}

	return time.Duration(baseDelay)
}

// Reset returns the backoff to its initial delay. Called after every successful fetch.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempts returns the number of failures recorded since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}
