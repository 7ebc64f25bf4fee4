// Package backoff computes retry delays shared by the job orchestrator and
// the webhook deliverer.
package backoff

import (
	"math/rand"
	"time"
)

// Delay returns base * 2^(attempt-1) capped at max, with ±20% jitter so
// retries of jobs failed in the same sweep spread out. Attempt counts from 1.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5+1)) - d/10
	return d + jitter
}
