package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"easel-ai/internal/domain"
	"easel-ai/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerClient wraps a ProviderClient so that repeated stream
// creation failures open the circuit and subsequent calls fail fast,
// preventing retry storms against a struggling vendor. Failures after the
// channel is handed back do not trip the breaker.
type CircuitBreakerClient struct {
	inner   domain.ProviderClient
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewCircuitBreakerClient wraps inner with a circuit breaker.
// Zero-valued config fields fall back to defaults.
func NewCircuitBreakerClient(inner domain.ProviderClient, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about vendor health.
			return err == nil || domain.IsCancellation(err)
		},
	})

	return &CircuitBreakerClient{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Name implements domain.ProviderClient.
func (c *CircuitBreakerClient) Name() string { return c.inner.Name() }

// ParseError implements domain.ProviderClient.
func (c *CircuitBreakerClient) ParseError(err error) *domain.AIError {
	return c.inner.ParseError(err)
}

// StreamActions implements domain.ProviderClient. Only stream creation runs
// inside the breaker.
func (c *CircuitBreakerClient) StreamActions(ctx context.Context, opts domain.StreamOptions) (<-chan domain.ActionEvent, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.inner.StreamActions(ctx, opts)
	})
	if err != nil {
		return nil, c.wrapBreakerError(err)
	}
	return result.(<-chan domain.ActionEvent), nil
}

// TestConnection implements domain.ProviderClient.
func (c *CircuitBreakerClient) TestConnection(ctx context.Context, apiKey string) (*domain.ConnectionResult, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.inner.TestConnection(ctx, apiKey)
	})
	if err != nil {
		return nil, c.wrapBreakerError(err)
	}
	return result.(*domain.ConnectionResult), nil
}

func (c *CircuitBreakerClient) wrapBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("provider %q circuit open: %w: %w", c.inner.Name(), domain.ErrServer, err)
	}
	return err
}

// State returns the current breaker state for monitoring.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.State()
}

var _ domain.ProviderClient = (*CircuitBreakerClient)(nil)
