package worker

import (
	"math/rand/v2"
	"time"
)

const (
	backoffBase = 5 * time.Second
	backoffCap  = 10 * time.Minute
)

// ExponentialBackoff is the delay before retrying a job that has already run
// attempt times: 5s, 10s, 20s ... capped at 10m, plus up to 10% jitter so a
// mail outage does not release every retry at once.
func ExponentialBackoff(attempt int) time.Duration {
	d := backoffCap
	if attempt >= 0 && attempt < 16 {
		d = min(backoffBase<<attempt, backoffCap)
	}
	return d + rand.N(d/10+1)
}
