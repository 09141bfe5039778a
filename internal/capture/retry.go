package capture

import (
	"math/rand/v2"
	"time"
)

const retryJitter = 0.2

// backoffDelay doubles base per retry up to maxD and applies +/-20% jitter.
// retry is 1-based.
func backoffDelay(base, maxD time.Duration, retry int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if maxD <= 0 {
		maxD = 15 * time.Second
	}
	d := base
	for i := 1; i < retry && d < maxD; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*retryJitter))
	return min(max(d, 0), maxD)
}
