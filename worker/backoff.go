package worker

import (
	"math"
	"math/rand"
	"time"
)

// Backoff is an exponential retry-delay policy with jitter. The delay for
// delivery attempt n is Base*Factor^(n-1), capped at Max, then spread across
// [1-Jitter, 1+Jitter] so that retries from many jobs do not land together.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff returns the standard policy: 1s base, doubling, capped at
// two minutes, with 50% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   time.Second,
		Max:    2 * time.Minute,
		Factor: 2.0,
		Jitter: 0.5,
	}
}

// Delay returns the wait before the next delivery, given the number of
// deliveries that have already happened.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.Base) * math.Pow(b.Factor, float64(attempt-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 {
		d *= 1 - b.Jitter + rand.Float64()*2*b.Jitter
		if d > float64(b.Max) {
			d = float64(b.Max)
		}
	}

	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
