// Package resilience holds the retry, circuit breaker and bulkhead helpers
// used around the ledger's storage commits and the risk scoring call.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
)

// Retry budget for a commit. MaxRetries counts retries after the first
// attempt, so zero means a single attempt.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// Backoff returns the base delay before retry number attempt (0-based):
// InitialBackoff doubled per attempt, without jitter.
func (c Config) Backoff(attempt int) time.Duration {
	if c.InitialBackoff <= 0 || attempt < 0 {
		return 0
	}
	d := c.InitialBackoff
	for i := 0; i < attempt && d < time.Minute; i++ {
		d *= 2
	}
	return d
}

// RetryWithBackoff calls fn until it succeeds, returns an error retryable
// rejects, or the budget runs out. A nil retryable retries every error.
func RetryWithBackoff(ctx context.Context, cfg Config, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err = fn(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			return err
		}

		wait := cfg.Backoff(attempt)
		if half := int64(wait / 2); half > 0 {
			wait += time.Duration(rand.Int63n(half))
		}
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

const (
	breakerHalfOpenRequests = 3
	breakerInterval         = 30 * time.Second
	breakerOpenTimeout      = 10 * time.Second
	breakerMinRequests      = 5
	breakerFailureRatio     = 0.6
)

// NewCircuitBreaker trips once at least 5 requests were seen in the interval
// and 60% of them failed.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerHalfOpenRequests,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
		},
	})
}

// Bulkhead caps in-flight calls to one dependency.
type Bulkhead struct {
	slots chan struct{}
}

func NewBulkhead(maxConcurrency int) *Bulkhead {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Bulkhead{slots: make(chan struct{}, maxConcurrency)}
}

// Acquire waits for a free slot. Every successful Acquire needs a Release.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bulkhead) Release() {
	<-b.slots
}
