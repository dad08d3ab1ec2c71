// Package breaker builds the circuit breakers that guard outbound reporting.
package breaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sudarshansudarshan/cal-sub001/internal/metrics"
)

type Settings struct {
	Name string
	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32
	// Interval resets the closed-state counts. Zero never resets.
	Interval time.Duration
	// Timeout is how long the breaker stays open before trying again.
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
	// IsSuccessful overrides which errors count as failures.
	IsSuccessful func(err error) bool
}

// Defaults trips after at least 5 requests with 60% failures and retries after 30s.
func Defaults(name string) Settings {
	return Settings{
		Name:         name,
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

func New(s Settings) *gobreaker.CircuitBreaker {
	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(StateValue(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         s.Name,
		MaxRequests:  s.MaxRequests,
		Interval:     s.Interval,
		Timeout:      s.Timeout,
		IsSuccessful: s.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(name).Set(StateValue(to))
		},
	})
}

func StateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
