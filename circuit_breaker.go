package sphinx

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pior/sphinx/searchd"
)

// CircuitBreaker guards calls to a searchd server.
// *gobreaker.CircuitBreaker[bool] implements it.
type CircuitBreaker interface {
	Execute(req func() (bool, error)) (bool, error)
	State() gobreaker.State
}

// NewCircuitBreakerConfig returns a Config.NewCircuitBreaker function.
// The breaker opens after at least 3 calls of which 60% or more failed.
// Only ConnectionError and ServerError count as failures.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) CircuitBreaker {
	return func(serverAddr string) CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        serverAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !searchd.IsTransport(err)
			},
		}
		return gobreaker.NewCircuitBreaker[bool](settings)
	}
}
