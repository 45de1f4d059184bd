package httpclient

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds exponential backoff with jitter. Defaults match
// §4.1: base 1s, cap 60s, additive jitter of up to +20%.
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	JitterFrac  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MinBackoff:  1 * time.Second,
		MaxBackoff:  60 * time.Second,
		JitterFrac:  0.20,
	}
}

// ComputeBackoff returns the delay before retry attempt n (1-indexed):
// min(base*2^(n-1), cap), plus additive jitter up to +JitterFrac,
// clamped to cap again, so the result always lies in
// [min(base*2^(n-1),cap), min(base*2^(n-1)*(1+JitterFrac),cap)].
// Satisfies the backoff-bound testable property in §8 — jitter only
// ever adds delay, it never brings a retry in below the capped base
// and never pushes it past cap.
func ComputeBackoff(p RetryPolicy, attempt int) time.Duration {
	minB := p.MinBackoff
	if minB <= 0 {
		minB = time.Second
	}
	maxB := p.MaxBackoff
	if maxB <= 0 {
		maxB = 60 * time.Second
	}
	jitter := p.JitterFrac
	if jitter <= 0 {
		jitter = 0.20
	}

	raw := float64(minB) * math.Pow(2, float64(attempt-1))
	capped := math.Min(raw, float64(maxB))

	jittered := math.Min(capped+rand.Float64()*capped*jitter, float64(maxB))
	return time.Duration(jittered)
}
