package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	Name             string        `json:"name"`
	MaxRequests      uint32        `json:"max_requests"`
	Interval         time.Duration `json:"interval"`
	Timeout          time.Duration `json:"timeout"`
	FailureThreshold uint32        `json:"failure_threshold"`
}

// ErrGeneratorUnavailable is returned while the breaker is open.
var ErrGeneratorUnavailable = errors.New("text generation unavailable (circuit breaker open)")

// ResilientTextGenerator wraps a TextGenerator with a circuit breaker so
// a failing endpoint is not hammered on every request.
type ResilientTextGenerator struct {
	next    TextGenerator
	breaker *gobreaker.CircuitBreaker
}

// NewResilientTextGenerator creates a breaker-protected generator
func NewResilientTextGenerator(next TextGenerator, config CircuitBreakerConfig, logger *logrus.Logger) *ResilientTextGenerator {
	if config.Name == "" {
		config.Name = "TextGeneration"
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 3
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	threshold := config.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &ResilientTextGenerator{next: next, breaker: breaker}
}

// Generate calls the wrapped generator through the breaker.
func (r *ResilientTextGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.next.Generate(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrGeneratorUnavailable
		}
		return "", fmt.Errorf("text generation failed: %w", err)
	}
	return result.(string), nil
}

// State returns the current breaker state
func (r *ResilientTextGenerator) State() gobreaker.State {
	return r.breaker.State()
}

// Counts returns the breaker statistics
func (r *ResilientTextGenerator) Counts() gobreaker.Counts {
	return r.breaker.Counts()
}
