package resp

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker guards a pool against a failing server.
// *gobreaker.CircuitBreaker[bool] satisfies it.
type CircuitBreaker interface {
	Execute(req func() (bool, error)) (bool, error)
	State() gobreaker.State
	Counts() gobreaker.Counts
}

var _ CircuitBreaker = (*gobreaker.CircuitBreaker[bool])(nil)

// NewCircuitBreakerConfig returns a function that creates a circuit breaker
// for an endpoint. This is a helper for common use cases.
//
// Only transport failures count against the server: error replies, nil
// replies and cancellations by the caller are successes.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(addr string) CircuitBreaker {
	return func(addr string) CircuitBreaker {
		settings := gobreaker.Settings{
			Name:         addr,
			MaxRequests:  maxRequests,
			Interval:     interval,
			Timeout:      timeout,
			IsSuccessful: isBreakerSuccess,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
		return gobreaker.NewCircuitBreaker[bool](settings)
	}
}

func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return !IsConnectionError(err)
}
