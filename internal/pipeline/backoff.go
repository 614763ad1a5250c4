package pipeline

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryFloor   = 5 * time.Second
	retryCeiling = 10 * time.Minute
)

// retryDelay maps a job's attempt count onto the exponential backoff curve.
// The policy is stateless because attempts live on the job row, not in the
// worker.
func retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryFloor
	b.MaxInterval = retryCeiling
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	if d == backoff.Stop || d > retryCeiling {
		d = retryCeiling
	}
	if d < retryFloor {
		d = retryFloor
	}
	return d
}
