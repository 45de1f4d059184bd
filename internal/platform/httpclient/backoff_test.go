package httpclient

import (
	"testing"
	"time"
)

func TestComputeBackoffNeverBelowCappedBase(t *testing.T) {
	p := RetryPolicy{MinBackoff: time.Second, MaxBackoff: 60 * time.Second, JitterFrac: 0.20}
	for attempt := 1; attempt <= 10; attempt++ {
		raw := float64(p.MinBackoff) * pow2(attempt-1)
		capped := raw
		if capped > float64(p.MaxBackoff) {
			capped = float64(p.MaxBackoff)
		}
		upper := capped * (1 + p.JitterFrac)

		for i := 0; i < 50; i++ {
			got := ComputeBackoff(p, attempt)
			if float64(got) < capped {
				t.Fatalf("attempt %d: got %v below capped base %v", attempt, got, time.Duration(capped))
			}
			if float64(got) > upper {
				t.Fatalf("attempt %d: got %v above upper bound %v", attempt, got, time.Duration(upper))
			}
		}
	}
}

func TestComputeBackoffRespectsMaxBackoffCap(t *testing.T) {
	p := RetryPolicy{MinBackoff: time.Second, MaxBackoff: 5 * time.Second, JitterFrac: 0.20}
	upper := 5 * time.Second
	for i := 0; i < 50; i++ {
		got := ComputeBackoff(p, 10)
		if got < 5*time.Second {
			t.Fatalf("expected delay to never drop below the 5s cap, got %v", got)
		}
		if got > upper {
			t.Fatalf("expected delay to stay within the 5s cap, got %v want <= %v", got, upper)
		}
	}
}

func TestComputeBackoffFillsZeroFieldsWithDefaults(t *testing.T) {
	got := ComputeBackoff(RetryPolicy{}, 1)
	if got < time.Second || got > 1200*time.Millisecond {
		t.Fatalf("expected defaulted policy to produce ~1s backoff, got %v", got)
	}
}

func pow2(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 2
	}
	return out
}
