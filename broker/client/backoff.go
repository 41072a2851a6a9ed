package client

import (
	"math/rand"
	"time"
)

// BackoffDelay is the retry schedule as a pure function of the attempt
// number: base * 2^(attempt-1), capped at limit, with +/- jitter fraction
// applied. attempt counts from 1.
func BackoffDelay(attempt int, base, limit time.Duration, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit || d <= 0 { // <= 0 catches overflow
			d = limit
			break
		}
	}
	if d > limit {
		d = limit
	}

	if jitter > 0 {
		f := 1 + jitter*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * f)
	}
	return d
}
